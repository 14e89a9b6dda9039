package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/feishu-go/internal/node"
)

func newOperationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "operations [resource]",
		Short: "List available operations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			var resource node.Resource
			if len(args) > 0 {
				resource = node.Resource(args[0])
			}

			return listOperations(cmd.OutOrStdout(), resource, cc.Flags.JSON)
		},
	}
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <resource:operation>",
		Short: "Show an operation's parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return describeOperation(cmd.OutOrStdout(), args[0], cc.Flags.JSON)
		},
	}
}

// operationView is the JSON form of an operation descriptor.
type operationView struct {
	Key         string       `json:"key"`
	Resource    string       `json:"resource"`
	Operation   string       `json:"operation"`
	DisplayName string       `json:"displayName"`
	Description string       `json:"description,omitempty"`
	Params      []node.Param `json:"params,omitempty"`
	Aliases     []string     `json:"aliases,omitempty"`
}

func viewOf(op *node.Operation, withParams bool) operationView {
	v := operationView{
		Key:         op.Key.String(),
		Resource:    string(op.Key.Resource),
		Operation:   op.Key.Operation,
		DisplayName: op.DisplayName,
		Description: op.Description,
		Aliases:     op.Aliases,
	}

	if withParams {
		v.Params = op.Params
	}

	return v
}

func listOperations(w io.Writer, resource node.Resource, asJSON bool) error {
	registry, err := newRegistry(nil)
	if err != nil {
		return err
	}

	ops := registry.Operations(resource)
	if len(ops) == 0 {
		return fmt.Errorf("no operations for resource %q (have: %s)", resource, joinResources(registry.Resources()))
	}

	if asJSON {
		views := make([]operationView, len(ops))
		for i, op := range ops {
			views[i] = viewOf(op, false)
		}

		return printJSON(w, views)
	}

	rows := make([][]string, len(ops))
	for i, op := range ops {
		rows[i] = []string{op.Key.String(), op.DisplayName}
	}

	printTable(w, []string{"OPERATION", "NAME"}, rows)

	return nil
}

func describeOperation(w io.Writer, keyArg string, asJSON bool) error {
	key, err := node.ParseKey(keyArg)
	if err != nil {
		return err
	}

	registry, err := newRegistry(nil)
	if err != nil {
		return err
	}

	op, err := registry.Lookup(key)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(w, viewOf(op, true))
	}

	fmt.Fprintf(w, "%s  %s\n", op.Key, op.DisplayName)

	if op.Description != "" {
		fmt.Fprintf(w, "%s\n", op.Description)
	}

	fmt.Fprintln(w)

	var rows [][]string
	flattenParams(op.Params, "", &rows)
	printTable(w, []string{"PARAMETER", "TYPE", "REQUIRED", "DEFAULT"}, rows)

	return nil
}

// flattenParams lists collection members under their dotted names.
func flattenParams(params []node.Param, prefix string, rows *[][]string) {
	for i := range params {
		p := &params[i]
		name := prefix + p.Name

		required := ""
		if p.Required {
			required = "yes"
		}

		def := ""
		if p.Default != nil {
			def = fmt.Sprint(p.Default)
		}

		if len(p.Options) > 0 {
			def = strings.TrimSpace(def + " " + optionList(p.Options))
		}

		*rows = append(*rows, []string{name, string(p.Type), required, def})

		if len(p.Children) > 0 {
			flattenParams(p.Children, name+".", rows)
		}
	}
}

func optionList(opts []node.Option) string {
	values := make([]string, len(opts))
	for i, o := range opts {
		values[i] = fmt.Sprint(o.Value)
	}

	return "[" + strings.Join(values, "|") + "]"
}

func joinResources(resources []node.Resource) string {
	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = string(r)
	}

	return strings.Join(names, ", ")
}
