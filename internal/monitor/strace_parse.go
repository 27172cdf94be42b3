package monitor

import (
	"path/filepath"
	"strconv"
	"strings"
)

type eventKind int

const (
	evRead eventKind = iota
	evWrite
	evRemove
	evExec
)

type event struct {
	kind eventKind
	path string
}

// traceParser turns strace -f -y output lines into file events. It keeps
// per-pid working directories so relative paths of non-fd syscalls resolve
// correctly, and joins calls strace split across lines.
type traceParser struct {
	rootDir string
	cwd     map[int]string
	pending map[int]string
	// forker is the pid that most recently entered a fork-like call. A
	// child's first line can precede its parent's return line, so unknown
	// pids inherit from it.
	forker int
}

func newTraceParser(rootDir string) *traceParser {
	return &traceParser{rootDir: rootDir, cwd: map[int]string{}, pending: map[int]string{}}
}

const (
	unfinishedMark = " <unfinished ...>"
	resumedMark    = " resumed>"
)

func (p *traceParser) feed(line string) []event {
	line = strings.TrimRight(line, "\r\n")
	pid, rest, ok := splitPid(line)
	if !ok || strings.HasPrefix(rest, "+++") || strings.HasPrefix(rest, "---") {
		return nil
	}
	p.bind(pid)
	if strings.HasSuffix(rest, unfinishedMark) {
		head := strings.TrimSuffix(rest, unfinishedMark)
		if isForkCall(head) {
			p.forker = pid
		}
		p.pending[pid] = head
		return nil
	}
	if strings.HasPrefix(rest, "<... ") {
		j := strings.Index(rest, resumedMark)
		head, ok := p.pending[pid]
		if j < 0 || !ok {
			return nil
		}
		delete(p.pending, pid)
		rest = head + rest[j+len(resumedMark):]
	}
	return p.call(pid, rest)
}

func splitPid(line string) (int, string, bool) {
	line = strings.TrimLeft(line, " ")
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", false
	}
	pid, err := strconv.Atoi(line[:i])
	if err != nil {
		return 0, "", false
	}
	return pid, strings.TrimLeft(line[i:], " "), true
}

func (p *traceParser) call(pid int, s string) []event {
	open := strings.IndexByte(s, '(')
	end := strings.LastIndex(s, ") = ")
	if open <= 0 || end < open {
		return nil
	}
	name := s[:open]
	args := splitArgs(s[open+1 : end])
	ret := strings.TrimSpace(s[end+len(") = "):])
	if ret == "" || ret[0] == '-' || ret[0] == '?' {
		return nil
	}
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch name {
	case "open":
		return p.open(pid, "", arg(0), arg(1), ret)
	case "openat", "openat2":
		return p.open(pid, arg(0), arg(1), arg(2), ret)
	case "creat":
		return one(evWrite, p.resolveOr(pid, "", arg(0), annotation(ret)))
	case "execve":
		return one(evExec, p.resolve(pid, "", arg(0)))
	case "execveat":
		return one(evExec, p.resolve(pid, arg(0), arg(1)))
	case "chdir":
		if d := p.resolve(pid, "", arg(0)); d != "" {
			p.cwd[pid] = d
		}
	case "fchdir":
		if d := annotation(arg(0)); d != "" {
			p.cwd[pid] = d
		}
	case "clone", "clone3", "fork", "vfork":
		p.forker = pid
		if child, err := strconv.Atoi(leadingNumber(ret)); err == nil && child > 0 {
			if _, seen := p.cwd[child]; !seen {
				p.cwd[child] = p.cwdOf(pid)
			}
		}
	case "rename":
		return pair(p.resolve(pid, "", arg(0)), p.resolve(pid, "", arg(1)))
	case "renameat", "renameat2":
		return pair(p.resolve(pid, arg(0), arg(1)), p.resolve(pid, arg(2), arg(3)))
	case "link", "symlink":
		return one(evWrite, p.resolve(pid, "", arg(1)))
	case "linkat":
		return one(evWrite, p.resolve(pid, arg(2), arg(3)))
	case "symlinkat":
		return one(evWrite, p.resolve(pid, arg(1), arg(2)))
	case "unlink":
		return one(evRemove, p.resolve(pid, "", arg(0)))
	case "unlinkat":
		if !strings.Contains(arg(2), "AT_REMOVEDIR") {
			return one(evRemove, p.resolve(pid, arg(0), arg(1)))
		}
	case "truncate":
		return one(evWrite, p.resolve(pid, "", arg(0)))
	}
	return nil
}

var writeFlags = []string{"O_WRONLY", "O_RDWR", "O_CREAT", "O_TRUNC"}

func (p *traceParser) open(pid int, dirArg, pathArg, flags, ret string) []event {
	if strings.Contains(flags, "O_DIRECTORY") || strings.Contains(flags, "O_PATH") {
		return nil
	}
	path := p.resolveOr(pid, dirArg, pathArg, annotation(ret))
	for _, f := range writeFlags {
		if strings.Contains(flags, f) {
			return one(evWrite, path)
		}
	}
	return one(evRead, path)
}

func isForkCall(s string) bool {
	for _, n := range []string{"clone(", "clone3(", "fork(", "vfork("} {
		if strings.HasPrefix(s, n) {
			return true
		}
	}
	return false
}

// bind fixes the working directory of a pid on first sight.
func (p *traceParser) bind(pid int) {
	if _, ok := p.cwd[pid]; ok {
		return
	}
	if p.forker != 0 && p.forker != pid {
		p.cwd[pid] = p.cwdOf(p.forker)
		return
	}
	p.cwd[pid] = p.rootDir
}

func one(k eventKind, path string) []event {
	if path == "" {
		return nil
	}
	return []event{{kind: k, path: path}}
}

// pair models a rename: the source disappears and the target is produced.
func pair(from, to string) []event {
	return append(one(evRemove, from), one(evWrite, to)...)
}

func (p *traceParser) cwdOf(pid int) string {
	if d, ok := p.cwd[pid]; ok {
		return d
	}
	return p.rootDir
}

// resolveOr prefers the kernel-reported path of the resulting descriptor.
func (p *traceParser) resolveOr(pid int, dirArg, pathArg, annotated string) string {
	if annotated != "" && filepath.IsAbs(annotated) {
		return filepath.Clean(annotated)
	}
	return p.resolve(pid, dirArg, pathArg)
}

func (p *traceParser) resolve(pid int, dirArg, pathArg string) string {
	path, ok := unquote(pathArg)
	if !ok || path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	base := annotation(dirArg)
	if base == "" {
		if dirArg != "" && !strings.HasPrefix(dirArg, "AT_FDCWD") {
			return ""
		}
		base = p.cwdOf(pid)
	}
	return filepath.Join(base, path)
}

// annotation extracts the path strace -y prints after a descriptor, as in
// 3</src/a.c>.
func annotation(s string) string {
	i := strings.IndexByte(s, '<')
	j := strings.LastIndexByte(s, '>')
	if i < 0 || j <= i+1 {
		return ""
	}
	return strings.TrimSuffix(s[i+1:j], " (deleted)")
}

func leadingNumber(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// splitArgs splits a syscall argument list on top-level commas, keeping
// quoted strings, brackets and descriptor annotations intact.
func splitArgs(s string) []string {
	var (
		out     []string
		depth   int
		inStr   bool
		escaped bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '<':
			if i > 0 && (s[i-1] >= '0' && s[i-1] <= '9' || strings.HasSuffix(s[:i], "AT_FDCWD")) {
				if j := strings.IndexByte(s[i:], '>'); j > 0 {
					i += j
				}
			}
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" || len(out) > 0 {
		out = append(out, rest)
	}
	return out
}

// unquote decodes a C-style string literal as printed by strace. Truncated
// strings (followed by "...") are rejected.
func unquote(s string) (string, bool) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", false
	}
	s = s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := s[i]; e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'v':
			b.WriteByte('\v')
		case 'f':
			b.WriteByte('\f')
		case 'x':
			j := i + 1
			for j < len(s) && j < i+3 && isHex(s[j]) {
				j++
			}
			v, _ := strconv.ParseUint(s[i+1:j], 16, 8)
			b.WriteByte(byte(v))
			i = j - 1
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 8)
			b.WriteByte(byte(v))
			i = j - 1
		default:
			b.WriteByte(e)
		}
	}
	return b.String(), true
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
