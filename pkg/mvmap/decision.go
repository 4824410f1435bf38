// ABOUTME: Decision makers drive Map.Operate instead of exceptions/return-code branching at call sites
// ABOUTME: Decide inspects the current value (if any) and says whether to abort, remove, write, or retry

package mvmap

// Decision is the verdict a DecisionMaker returns for one Operate attempt.
type Decision int

const (
	// DecisionAbort leaves the map unchanged; Operate returns the existing value.
	DecisionAbort Decision = iota
	// DecisionRemove deletes the key.
	DecisionRemove
	// DecisionPut writes SelectValue's result under the key.
	DecisionPut
	// DecisionRepeat asks Operate to start the attempt over: it reloads the
	// published root, re-reads the current value and calls Decide again.
	// Used by decision makers whose verdict depends on a value that Decide
	// itself needs to inspect more than once (e.g. a read-then-conditionally-
	// write pair).
	DecisionRepeat
)

// DecisionMaker is consulted once per Operate attempt against the value
// currently stored under the key (existingValue is nil and exists is false
// if the key is absent). Reset is called before a fresh CAS attempt after a
// root-reference race, so stateful decision makers can discard any
// intermediate state from the losing attempt.
type DecisionMaker interface {
	Decide(existingValue []byte, exists bool) Decision
	SelectValue(existingValue []byte) []byte
	Reset()
}

// putDecisionMaker unconditionally writes a fixed value.
type putDecisionMaker struct {
	value []byte
}

// NewPut returns a DecisionMaker that writes value regardless of what (if
// anything) is already stored under the key.
func NewPut(value []byte) DecisionMaker { return &putDecisionMaker{value: value} }

func (d *putDecisionMaker) Decide(existingValue []byte, exists bool) Decision { return DecisionPut }
func (d *putDecisionMaker) SelectValue(existingValue []byte) []byte          { return d.value }
func (d *putDecisionMaker) Reset()                                           {}

// putIfAbsentDecisionMaker writes only when the key is not already present.
type putIfAbsentDecisionMaker struct {
	value []byte
}

// NewPutIfAbsent returns a DecisionMaker that writes value only if the key
// does not already exist.
func NewPutIfAbsent(value []byte) DecisionMaker { return &putIfAbsentDecisionMaker{value: value} }

func (d *putIfAbsentDecisionMaker) Decide(existingValue []byte, exists bool) Decision {
	if exists {
		return DecisionAbort
	}
	return DecisionPut
}
func (d *putIfAbsentDecisionMaker) SelectValue(existingValue []byte) []byte { return d.value }
func (d *putIfAbsentDecisionMaker) Reset()                                 {}

// removeDecisionMaker unconditionally removes the key.
type removeDecisionMaker struct{}

// NewRemove returns a DecisionMaker that deletes the key if present.
func NewRemove() DecisionMaker { return &removeDecisionMaker{} }

func (d *removeDecisionMaker) Decide(existingValue []byte, exists bool) Decision {
	if !exists {
		return DecisionAbort
	}
	return DecisionRemove
}
func (d *removeDecisionMaker) SelectValue(existingValue []byte) []byte { return nil }
func (d *removeDecisionMaker) Reset()                                  {}

// EqualsFunc compares two stored values for the conditional operations
// below; callers typically pass bytes.Equal.
type EqualsFunc func(a, b []byte) bool

// removeIfEqualsDecisionMaker removes the key only if its current value
// equals expected.
type removeIfEqualsDecisionMaker struct {
	expected []byte
	equals   EqualsFunc
}

// NewRemoveIfEquals returns a DecisionMaker backing Map.RemoveIfEquals.
func NewRemoveIfEquals(expected []byte, equals EqualsFunc) DecisionMaker {
	return &removeIfEqualsDecisionMaker{expected: expected, equals: equals}
}

func (d *removeIfEqualsDecisionMaker) Decide(existingValue []byte, exists bool) Decision {
	if !exists || !d.equals(existingValue, d.expected) {
		return DecisionAbort
	}
	return DecisionRemove
}
func (d *removeIfEqualsDecisionMaker) SelectValue(existingValue []byte) []byte { return nil }
func (d *removeIfEqualsDecisionMaker) Reset()                                 {}

// replaceDecisionMaker writes newValue only if the key's current value
// equals oldValue.
type replaceDecisionMaker struct {
	oldValue []byte
	newValue []byte
	equals   EqualsFunc
}

// NewReplace returns a DecisionMaker backing Map.Replace.
func NewReplace(oldValue, newValue []byte, equals EqualsFunc) DecisionMaker {
	return &replaceDecisionMaker{oldValue: oldValue, newValue: newValue, equals: equals}
}

func (d *replaceDecisionMaker) Decide(existingValue []byte, exists bool) Decision {
	if !exists || !d.equals(existingValue, d.oldValue) {
		return DecisionAbort
	}
	return DecisionPut
}
func (d *replaceDecisionMaker) SelectValue(existingValue []byte) []byte { return d.newValue }
func (d *replaceDecisionMaker) Reset()                                 {}
