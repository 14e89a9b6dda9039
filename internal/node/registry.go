package node

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrUnknownOperation is returned for a key with no registered operation.
var ErrUnknownOperation = errors.New("node: unknown operation")

// Registry is the read-only operation catalog, built once at start-up.
type Registry struct {
	ops     map[Key]*Operation
	aliases map[string]Key
	order   []Key
}

// NewRegistry indexes ops. Duplicate keys, missing handlers and invalid
// schemas are rejected.
func NewRegistry(ops ...Operation) (*Registry, error) {
	r := &Registry{ops: make(map[Key]*Operation, len(ops)), aliases: map[string]Key{}}

	for i := range ops {
		op := ops[i]

		if op.Key.Resource == "" || op.Key.Operation == "" {
			return nil, fmt.Errorf("node: operation #%d has an empty key", i)
		}

		if op.Handler == nil {
			return nil, fmt.Errorf("node: operation %s has no handler", op.Key)
		}

		if _, dup := r.ops[op.Key]; dup {
			return nil, fmt.Errorf("node: operation %s registered twice", op.Key)
		}

		if err := validateSchema(op.Params); err != nil {
			return nil, fmt.Errorf("node: operation %s: %w", op.Key, err)
		}

		r.ops[op.Key] = &op
		r.order = append(r.order, op.Key)
	}

	for _, k := range r.order {
		for _, alias := range r.ops[k].Aliases {
			if prev, dup := r.aliases[alias]; dup && prev != k {
				return nil, fmt.Errorf("node: alias %q claimed by %s and %s", alias, prev, k)
			}

			if target, err := ParseKey(alias); err == nil && target != k {
				if _, taken := r.ops[target]; taken {
					return nil, fmt.Errorf("node: alias %q of %s shadows operation %s", alias, k, target)
				}
			}

			r.aliases[alias] = k
		}
	}

	sort.SliceStable(r.order, func(i, j int) bool {
		if r.order[i].Resource != r.order[j].Resource {
			return r.order[i].Resource < r.order[j].Resource
		}

		return r.order[i].Operation < r.order[j].Operation
	})

	return r, nil
}

// Lookup returns the operation for key. The operation field may also
// carry a full "resource:operation" value or a registered alias, which
// wins over the resource field.
func (r *Registry) Lookup(key Key) (*Operation, error) {
	if op, ok := r.ops[key]; ok {
		return op, nil
	}

	if k, ok := r.aliases[key.Operation]; ok {
		return r.ops[k], nil
	}

	if k, ok := r.aliases[key.String()]; ok {
		return r.ops[k], nil
	}

	if full, err := ParseKey(key.Operation); err == nil {
		if op, ok := r.ops[full]; ok {
			return op, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, key)
}

// Operations lists operations sorted by key. An empty resource lists all.
func (r *Registry) Operations(resource Resource) []*Operation {
	var out []*Operation

	for _, k := range r.order {
		if resource == "" || k.Resource == resource {
			out = append(out, r.ops[k])
		}
	}

	return out
}

// Resources lists the resources that have at least one operation.
func (r *Registry) Resources() []Resource {
	var out []Resource

	for _, k := range r.order {
		if !slices.Contains(out, k.Resource) {
			out = append(out, k.Resource)
		}
	}

	return out
}

// Len is the number of registered operations.
func (r *Registry) Len() int {
	return len(r.order)
}
