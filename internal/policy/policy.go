package policy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"cuelang.org/go/cue/parser"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/roach88/psbthsm/internal/model"
)

// Policy is an authorization rule for one kind of signature.
type Policy struct {
	// Kind is the signature kind this policy applies to.
	Kind model.SigType `yaml:"kind" json:"kind"`

	// Script is a CUE expression evaluated against the request environment.
	Script string `yaml:"script" json:"script"`
}

// ID returns the content-addressed identifier of the policy.
func (p Policy) ID() ID {
	return Identify(p.Kind, p.Script)
}

// Validate reports whether the policy may be stored.
//
// A valid policy has a known kind and a non-blank script that is valid UTF-8,
// already in Unicode NFC form, and parses as CUE. The NFC requirement keeps
// identifiers stable when the same text is produced by different editors.
func (p Policy) Validate() error {
	if !p.Kind.Valid() {
		return model.NewError(model.CodeInvalidPolicy, fmt.Sprintf("unknown kind %d", uint8(p.Kind)))
	}
	if strings.TrimSpace(p.Script) == "" {
		return model.NewError(model.CodeInvalidPolicy, "script is empty")
	}
	if !utf8.ValidString(p.Script) {
		return model.NewError(model.CodeInvalidPolicy, "script is not valid UTF-8")
	}
	if !norm.NFC.IsNormalString(p.Script) {
		return model.NewError(model.CodeInvalidPolicy, "script is not NFC normalized")
	}
	if _, err := parser.ParseFile("policy.cue", p.Script); err != nil {
		return &model.Error{Code: model.CodeInvalidPolicy, Input: -1, Detail: "script does not parse", Err: err}
	}
	return nil
}

// LoadFile reads one or more YAML policy documents from path.
//
//	kind: transaction
//	script: request.tx.output_total <= 100000
//	---
//	kind: message
//	script: "false"
//
// Every policy is validated; the first invalid one aborts the load.
func LoadFile(path string) ([]Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads YAML policy documents from r.
func Decode(r io.Reader) ([]Policy, error) {
	dec := yaml.NewDecoder(r)

	var policies []Policy
	for i := 0; ; i++ {
		var p Policy
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("policy document %d: %w", i, err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy document %d: %w", i, err)
		}
		policies = append(policies, p)
	}

	if len(policies) == 0 {
		return nil, fmt.Errorf("no policy documents found")
	}
	return policies, nil
}
