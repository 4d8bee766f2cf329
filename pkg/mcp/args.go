package mcp

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/models"
)

// arguments are the raw tool arguments. Accessors check JSON types so that a
// caller sending "5" for a number gets a validation error instead of a zero.
type arguments struct {
	r gjson.Result
}

func parseArguments(raw json.RawMessage) (arguments, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return arguments{r: gjson.Parse("{}")}, nil
	}
	if !gjson.ValidBytes(raw) {
		return arguments{}, apperr.Validation("arguments are not valid JSON")
	}
	r := gjson.ParseBytes(raw)
	if r.Type == gjson.Null {
		return arguments{r: gjson.Parse("{}")}, nil
	}
	if !r.IsObject() {
		return arguments{}, apperr.Validation("arguments must be an object")
	}
	return arguments{r: r}, nil
}

// lookup returns the named argument. JSON null counts as absent.
func (a arguments) lookup(name string) (gjson.Result, bool) {
	v := a.r.Get(name)
	return v, v.Exists() && v.Type != gjson.Null
}

func (a arguments) str(name string, required bool) (string, error) {
	v, ok := a.lookup(name)
	if !ok {
		if required {
			return "", apperr.Validation("%s is required", name)
		}
		return "", nil
	}
	if v.Type != gjson.String {
		return "", apperr.Validation("%s must be a string", name)
	}
	if required && v.Str == "" {
		return "", apperr.Validation("%s is required", name)
	}
	return v.Str, nil
}

func (a arguments) number(name string) (float64, bool, error) {
	v, ok := a.lookup(name)
	if !ok {
		return 0, false, nil
	}
	if v.Type != gjson.Number {
		return 0, false, apperr.Validation("%s must be a number", name)
	}
	return v.Num, true, nil
}

func (a arguments) integer(name string) (int, bool, error) {
	n, ok, err := a.number(name)
	if err != nil || !ok {
		return 0, ok, err
	}
	if n != math.Trunc(n) {
		return 0, false, apperr.Validation("%s must be an integer", name)
	}
	return int(n), true, nil
}

func (a arguments) strings(name string) ([]string, error) {
	v, ok := a.lookup(name)
	if !ok {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, apperr.Validation("%s must be an array of strings", name)
	}
	var out []string
	for _, e := range v.Array() {
		if e.Type != gjson.String {
			return nil, apperr.Validation("%s must be an array of strings", name)
		}
		out = append(out, e.Str)
	}
	return out, nil
}

func (a arguments) tier(name string) (models.Tier, error) {
	s, err := a.str(name, false)
	if err != nil || s == "" {
		return "", err
	}
	t, err := models.ParseTier(s)
	if err != nil {
		return "", apperr.Validation("%s: %v", name, err)
	}
	return t, nil
}

// lookback reads lookback_days, defaulting to def.
func (a arguments) lookback(def time.Duration) (time.Duration, error) {
	days, ok, err := a.integer("lookback_days")
	if err != nil || !ok {
		return def, err
	}
	if days <= 0 {
		return 0, apperr.Validation("lookback_days must be positive")
	}
	return time.Duration(days) * 24 * time.Hour, nil
}
