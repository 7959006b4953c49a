package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psbthsm/internal/model"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "x")), ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := WrapExitError(ExitFailure, "sign", model.ErrAuthorizationDenied)
	assert.Contains(t, err.Error(), "sign: ")
	assert.ErrorIs(t, err, model.ErrAuthorizationDenied)
}

func TestNewCLIError(t *testing.T) {
	ce := NewCLIError(model.InputError(model.CodeNonStandardSighash, 2, "sighash 0x03"))
	assert.Equal(t, "NON_STANDARD_SIGHASH", ce.Code)
	require.NotNil(t, ce.Input)
	assert.Equal(t, 2, *ce.Input)

	ce = NewCLIError(model.ErrAuthorizationDenied)
	assert.Equal(t, "AUTHORIZATION_DENIED", ce.Code)
	assert.Nil(t, ce.Input)

	ce = NewCLIError(errors.New("disk on fire"))
	assert.Equal(t, "UNKNOWN", ce.Code)
}

type greeting struct {
	Name string `json:"name"`
}

func (g greeting) String() string { return "hello " + g.Name }

func TestSuccessText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: OutputText, Writer: buf}

	require.NoError(t, f.Success(greeting{Name: "vault"}))
	assert.Equal(t, "hello vault\n", buf.String())
}

func TestSuccessJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: OutputJSON, Writer: buf}

	require.NoError(t, f.Success(greeting{Name: "vault"}))

	var resp struct {
		Status string   `json:"status"`
		Data   greeting `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "vault", resp.Data.Name)
}

func TestErrorJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: OutputJSON, Writer: buf}

	require.NoError(t, f.Error(model.InputError(model.CodeUtxoMismatch, 0, "txid")))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UTXO_MISMATCH", resp.Error.Code)
	require.NotNil(t, resp.Error.Input)
	assert.Equal(t, 0, *resp.Error.Input)
}

func TestErrorText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: OutputText, Writer: buf}

	require.NoError(t, f.Error(model.ErrNotFound))
	assert.Contains(t, buf.String(), "Error [NOT_FOUND]")
}

func TestVerboseLog(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	f := &OutputFormatter{Writer: out, ErrWriter: errOut}
	f.VerboseLog("quiet %d", 1)
	assert.Empty(t, errOut.String())

	f.Verbose = true
	f.VerboseLog("loud %d", 2)
	assert.Equal(t, "loud 2\n", errOut.String())
	assert.Empty(t, out.String())
}

func TestFailReportsOnce(t *testing.T) {
	var out bytes.Buffer
	f := &OutputFormatter{Format: OutputText, Writer: &out}

	err := f.Fail(ExitFailure, "load seed", model.ErrKeyDerivation)
	assert.True(t, err.Reported)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, model.ErrKeyDerivation)
	assert.Equal(t, 1, strings.Count(out.String(), "KEY_DERIVATION"))
}
