package comando

import (
	"fmt"
	"slices"
)

// Command describes one entry of a device command table. Args is the full
// argument list; callers may send any prefix of it, which is how read-back
// queries are expressed. Returns is the layout of the device's reply or report.
type Command struct {
	ID      byte
	Name    string
	Args    []Type
	Returns []Type
	// Variadic commands accept any number of trailing Rest arguments after Args.
	Variadic bool
	Rest     Type
}

// Table indexes commands by id and name.
type Table struct {
	byID   map[byte]Command
	byName map[string]Command
}

// NewTable builds a table, rejecting duplicate ids or names.
func NewTable(cmds ...Command) (*Table, error) {
	t := &Table{
		byID:   make(map[byte]Command, len(cmds)),
		byName: make(map[string]Command, len(cmds)),
	}
	for _, c := range cmds {
		if _, ok := t.byID[c.ID]; ok {
			return nil, fmt.Errorf("duplicate command id %d", c.ID)
		}
		if _, ok := t.byName[c.Name]; ok {
			return nil, fmt.Errorf("duplicate command name %q", c.Name)
		}
		t.byID[c.ID] = c
		t.byName[c.Name] = c
	}
	return t, nil
}

// MustTable is NewTable for static tables.
func MustTable(cmds ...Command) *Table {
	t, err := NewTable(cmds...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup finds a command by name.
func (t *Table) Lookup(name string) (Command, error) {
	c, ok := t.byName[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return c, nil
}

// ByID finds a command by id.
func (t *Table) ByID(id byte) (Command, error) {
	c, ok := t.byID[id]
	if !ok {
		return Command{}, fmt.Errorf("%w: id %d", ErrUnknownCommand, id)
	}
	return c, nil
}

// Names returns all command names sorted by id.
func (t *Table) Names() []string {
	ids := make([]byte, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = t.byID[id].Name
	}
	return names
}

// Check validates args against the command signature.
func (c Command) Check(args []Value) error {
	for i, a := range args {
		want := c.Rest
		switch {
		case i < len(c.Args):
			want = c.Args[i]
		case !c.Variadic:
			return fmt.Errorf("%w: %s takes at most %d arguments, got %d", ErrBadArgs, c.Name, len(c.Args), len(args))
		}
		if a.Type() != want {
			return fmt.Errorf("%w: %s argument %d is %s, want %s", ErrBadArgs, c.Name, i, a.Type(), want)
		}
	}
	return nil
}
