package plan

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/google/shlex"

	"github.com/jnoliv/mkusb-part/types"
)

// Parse reads a textual partition plan, one entry per line:
//
//	SLOT_INDEX NAME TYPE_ID FILESYSTEM SIZE [FLAG...]
//
// Spaces inside NAME are backslash-escaped. Blank lines and lines starting
// with '#' are skipped. Parse validates each line in isolation; whole-plan
// invariants (slot permutation, single REMAINING entry) are left to the
// layout resolver. The transform is pure, no device is touched.
func Parse(r io.Reader) (*Plan, error) {
	p := &Plan{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		spec, err := parseLine(lineNo, line)
		if err != nil {
			return nil, err
		}
		p.Specs = append(p.Specs, spec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	return p, nil
}

func parseLine(lineNo int, line string) (Spec, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return Spec{}, &types.MalformedPlanError{Line: lineNo, Field: "line", Err: err}
	}
	if len(fields) < 5 {
		return Spec{}, &types.MalformedPlanError{
			Line: lineNo, Field: "line",
			Err: fmt.Errorf("want 5 fields plus optional flags, got %d", len(fields)),
		}
	}

	slot, err := strconv.Atoi(fields[0])
	if err != nil || slot < 1 {
		return Spec{}, &types.MalformedPlanError{
			Line: lineNo, Field: "slot index",
			Err: fmt.Errorf("%q is not a positive integer", fields[0]),
		}
	}

	name := fields[1]
	if name == "" {
		return Spec{}, &types.MalformedPlanError{
			Line: lineNo, Field: "name", Err: fmt.Errorf("empty name"),
		}
	}

	typeID := fields[2]
	if _, err := uuid.FromString(typeID); err != nil {
		return Spec{}, &types.MalformedPlanError{
			Line: lineNo, Field: "type id",
			Err: fmt.Errorf("%q is not a GUID: %w", typeID, err),
		}
	}

	fs, err := ParseFilesystem(fields[3])
	if err != nil {
		return Spec{}, &types.MalformedPlanError{Line: lineNo, Field: "filesystem", Err: err}
	}

	size, err := ParseSize(fields[4])
	if err != nil {
		return Spec{}, &types.MalformedPlanError{Line: lineNo, Field: "size", Err: err}
	}

	var flags FlagSet
	for _, f := range fields[5:] {
		bit, err := strconv.Atoi(f)
		if err != nil {
			return Spec{}, &types.MalformedPlanError{
				Line: lineNo, Field: "flags",
				Err: fmt.Errorf("%q is not an integer", f),
			}
		}
		if err := flags.Add(bit); err != nil {
			return Spec{}, &types.MalformedPlanError{Line: lineNo, Field: "flags", Err: err}
		}
	}

	return Spec{
		SlotIndex:  slot,
		Name:       name,
		TypeID:     typeID,
		Filesystem: fs,
		Size:       size,
		Flags:      flags,
	}, nil
}

// Line renders a spec back into plan-text form, escaping spaces in the
// name so Parse accepts it again.
func (s Spec) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s %s %s %s",
		s.SlotIndex,
		strings.ReplaceAll(s.Name, " ", `\ `),
		s.TypeID,
		s.Filesystem,
		FormatSize(s.Size),
	)
	for _, bit := range s.Flags.Bits() {
		fmt.Fprintf(&b, " %d", bit)
	}
	return b.String()
}

// String renders the whole plan in physical creation order, one entry per
// line.
func (p *Plan) String() string {
	lines := make([]string, 0, len(p.Specs))
	for _, s := range p.Specs {
		lines = append(lines, s.Line())
	}
	return strings.Join(lines, "\n") + "\n"
}
