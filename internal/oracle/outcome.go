package oracle

import (
	"fmt"
	"strings"
)

// Kind classifies the result of one Check phase.
type Kind int

const (
	Pass                Kind = iota
	FileMissing              // An entry the checkpoint requires is absent everywhere
	OldEntryPersisted        // A removed/moved-away entry is still present
	OrphanEntry              // A moved entity survives only at a stale location
	LinkInvariantBroken      // Hard-linked entries disagree (one present, one absent, or distinct inodes)
	MalformedScenario        // The test itself is ill-formed (no checkpoints, unknown checkpoint)
	InspectError             // The recovered tree could not be read
)

var kindNames = map[Kind]string{
	Pass:                "Pass",
	FileMissing:         "FileMissing",
	OldEntryPersisted:   "OldEntryPersisted",
	OrphanEntry:         "OrphanEntry",
	LinkInvariantBroken: "LinkInvariantBroken",
	MalformedScenario:   "MalformedScenario",
	InspectError:        "InspectError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown outcome kind %q", text)
}

// Class groups kinds the way the harness reports them.
type Class string

const (
	ClassPass     Class = "pass"
	ClassDataLoss Class = "data-loss" // Verdict on the filesystem under test
	ClassError    Class = "error"     // Defect in the test or its environment
)

// Class returns the reporting class of k.
func (k Kind) Class() Class {
	switch k {
	case Pass:
		return ClassPass
	case FileMissing, OldEntryPersisted, OrphanEntry, LinkInvariantBroken:
		return ClassDataLoss
	default:
		return ClassError
	}
}

// Finding is one violated predicate.
type Finding struct {
	Kind   Kind     `json:"kind"`
	Paths  []string `json:"paths"`
	Detail string   `json:"detail"`
}

func (f Finding) String() string {
	return f.Detail
}

// Outcome is the verdict of one Check phase.
type Outcome struct {
	Kind        Kind      `json:"kind"`
	Class       Class     `json:"class"`
	Checkpoint  uint      `json:"checkpoint"`
	Description string    `json:"description"`
	Findings    []Finding `json:"findings,omitempty"`
}

// Passed reports whether the outcome is Pass.
func (o Outcome) Passed() bool { return o.Kind == Pass }

func (o Outcome) String() string {
	if o.Description == "" {
		return o.Kind.String()
	}
	return o.Kind.String() + ": " + o.Description
}

// Malformed builds a MalformedScenario outcome.
func Malformed(last uint, format string, args ...any) Outcome {
	return Outcome{
		Kind:        MalformedScenario,
		Class:       MalformedScenario.Class(),
		Checkpoint:  last,
		Description: fmt.Sprintf(format, args...),
	}
}

// fromFindings builds the outcome for a completed evaluation. The first
// finding decides the kind; every finding is listed in the description.
func fromFindings(last uint, findings []Finding) Outcome {
	if len(findings) == 0 {
		return Outcome{Kind: Pass, Class: ClassPass, Checkpoint: last}
	}

	details := make([]string, len(findings))
	for i, f := range findings {
		details[i] = f.Detail
	}
	kind := findings[0].Kind
	return Outcome{
		Kind:        kind,
		Class:       kind.Class(),
		Checkpoint:  last,
		Description: strings.Join(details, "; "),
		Findings:    findings,
	}
}
