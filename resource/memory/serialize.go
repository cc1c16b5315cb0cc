package memory

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/resource"
	"github.com/tidwall/sjson"
)

// Serialize projects records on public fields plus the load list,
// in field declaration order. Other values are encoded as JSON.
// When returns names a registered resource, records are projected on it.
func (p *Provider) Serialize(_ context.Context, res *resource.Resource, value any, returns string, load []string) (string, error) {
	if returns != "" {
		p.lock.RLock()
		if r := p.find(returns); r != nil {
			res = r
		}
		p.lock.RUnlock()
	}

	switch typ := value.(type) {
	case nil:
		return "null", nil
	case Record:
		js, err := project(res, typ, load)
		return string(js), err
	case map[string]any:
		js, err := project(res, typ, load)
		return string(js), err
	case []any:
		if !allRecords(typ) {
			break
		}
		js := []byte("[]")
		for _, v := range typ {
			r, _ := asRecord(v)
			obj, err := project(res, r, load)
			if err != nil {
				return "", err
			}
			if js, err = sjson.SetRawBytes(js, "-1", obj); err != nil {
				return "", errors.WithStack(err)
			}
		}
		return string(js), nil
	}

	js, err := json.Marshal(value)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(js), nil
}

func allRecords(list []any) bool {
	for _, v := range list {
		if _, ok := asRecord(v); !ok {
			return false
		}
	}
	return true
}

func project(res *resource.Resource, r Record, load []string) ([]byte, error) {
	js := []byte("{}")
	if res == nil {
		b, err := json.Marshal(r)
		return b, errors.WithStack(err)
	}
	for _, f := range res.Fields {
		if !f.Public && !slices.Contains(load, f.Name) {
			continue
		}
		v, ok := r[f.Name]
		if !ok {
			continue
		}
		var err error
		if js, err = sjson.SetBytes(js, f.Name, v); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return js, nil
}
