package cpu

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrDecode = errors.New("invalid program")

type Opcode string

const (
	NOOP         Opcode = "NOOP"
	GOTO         Opcode = "GOTO"
	YIELD        Opcode = "YIELD"
	EXIT         Opcode = "EXIT"
	GET_TIME     Opcode = "GET_TIME"
	TASK_INFO    Opcode = "TASK_INFO"
	MMAP         Opcode = "MMAP"
	MUNMAP       Opcode = "MUNMAP"
	SET_PRIORITY Opcode = "SET_PRIORITY"
	WRITE        Opcode = "WRITE"
	STORE        Opcode = "STORE"
	LOAD         Opcode = "LOAD"
	SYSCALL      Opcode = "SYSCALL"
	DUMP_MEMORY  Opcode = "DUMP_MEMORY"
)

// aridad is the number of numeric arguments each opcode takes. STORE takes
// an address plus a text payload; SYSCALL takes an id and up to three
// arguments.
var aridad = map[Opcode]int{
	NOOP:         0,
	GOTO:         1,
	YIELD:        0,
	EXIT:         1,
	GET_TIME:     1,
	TASK_INFO:    1,
	MMAP:         3,
	MUNMAP:       2,
	SET_PRIORITY: 1,
	WRITE:        3,
	STORE:        1,
	LOAD:         2,
	SYSCALL:      -1,
	DUMP_MEMORY:  0,
}

type Instruccion struct {
	Opcode Opcode
	Args   []uint64
	Data   []byte // STORE payload
	Line   int
}

func (i Instruccion) String() string {
	var b strings.Builder
	b.WriteString(string(i.Opcode))
	for _, a := range i.Args {
		fmt.Fprintf(&b, " %#x", a)
	}
	if i.Data != nil {
		fmt.Fprintf(&b, " %q", i.Data)
	}
	return b.String()
}

// Program is a decoded image; the program counter indexes into it.
type Program []Instruccion

// Decode parses a program image: one instruction per line, '#' starts a
// comment, numbers use Go literal syntax (0x1000, -1). EXIT with no
// argument exits with 0.
func Decode(image []byte) (Program, error) {
	var prog Program
	sc := bufio.NewScanner(bytes.NewReader(image))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 && !strings.Contains(line[:i], "\"") {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		inst, err := decodeLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrDecode, n, err)
		}
		inst.Line = n
		prog = append(prog, inst)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	for _, inst := range prog {
		if inst.Opcode == GOTO && inst.Args[0] >= uint64(len(prog)) {
			return nil, fmt.Errorf("%w: line %d: GOTO %d past the end", ErrDecode, inst.Line, inst.Args[0])
		}
	}
	return prog, nil
}

func decodeLine(line string) (Instruccion, error) {
	campos := strings.Fields(line)
	inst := Instruccion{Opcode: Opcode(strings.ToUpper(campos[0]))}
	want, ok := aridad[inst.Opcode]
	if !ok {
		return inst, fmt.Errorf("unknown opcode %q", campos[0])
	}
	params := campos[1:]

	switch inst.Opcode {
	case STORE:
		if len(params) < 2 {
			return inst, fmt.Errorf("STORE needs an address and a payload")
		}
		va, err := parseNumber(params[0])
		if err != nil {
			return inst, err
		}
		inst.Args = []uint64{va}
		payload := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line[len(campos[0]):]), params[0]))
		if strings.HasPrefix(payload, "\"") {
			if payload, err = strconv.Unquote(payload); err != nil {
				return inst, fmt.Errorf("STORE payload: %v", err)
			}
		}
		inst.Data = []byte(payload)
		return inst, nil
	case EXIT:
		if len(params) == 0 {
			inst.Args = []uint64{0}
			return inst, nil
		}
	case SYSCALL:
		if len(params) < 1 || len(params) > 4 {
			return inst, fmt.Errorf("SYSCALL takes an id and up to three arguments")
		}
		want = len(params)
	}

	if len(params) != want {
		return inst, fmt.Errorf("%s takes %d arguments, got %d", inst.Opcode, want, len(params))
	}
	for _, p := range params {
		v, err := parseNumber(p)
		if err != nil {
			return inst, err
		}
		inst.Args = append(inst.Args, v)
	}
	return inst, nil
}

// parseNumber accepts unsigned and negative literals; negatives wrap to
// their two's complement, as a register would hold them.
func parseNumber(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint64(v), nil
}
