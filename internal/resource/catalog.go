package resource

import (
	"golang.org/x/time/rate"

	"github.com/tonimelisma/feishu-go/internal/node"
	"github.com/tonimelisma/feishu-go/internal/upload"
)

// Options carries settings shared by every invocation of the catalog.
type Options struct {
	// UploadConcurrency is the chunked-upload worker count used when a row
	// does not set one.
	UploadConcurrency int
	// PartLimiter paces upload_part calls across all uploads. Nil means a
	// limiter at the platform rate.
	PartLimiter *rate.Limiter
}

// Operations returns every operation in the catalog.
func Operations(opts Options) []node.Operation {
	if opts.PartLimiter == nil {
		opts.PartLimiter = upload.NewPartLimiter(0)
	}

	var ops []node.Operation

	ops = append(ops, ailyOperations()...)
	ops = append(ops, bitableOperations()...)
	ops = append(ops, calendarOperations()...)
	ops = append(ops, chatOperations()...)
	ops = append(ops, docOperations()...)
	ops = append(ops, messageOperations()...)
	ops = append(ops, spaceOperations(opts)...)
	ops = append(ops, spreadsheetOperations()...)
	ops = append(ops, taskOperations()...)
	ops = append(ops, userOperations()...)
	ops = append(ops, wikiOperations()...)

	for i := range ops {
		ops[i].Aliases = legacyKeys[ops[i].Key]
	}

	return ops
}

// legacyKeys are the operation values used by earlier workflow
// definitions for operations that have since been renamed.
var legacyKeys = map[node.Key][]string{
	{Resource: node.ResourceBitable, Operation: "tableAdd"}:     {"bitable:table:add"},
	{Resource: node.ResourceBitable, Operation: "tableList"}:    {"bitable:table:list"},
	{Resource: node.ResourceBitable, Operation: "fieldList"}:    {"bitable:table:field:list"},
	{Resource: node.ResourceBitable, Operation: "recordSearch"}: {"bitable:table:record:search"},
	{Resource: node.ResourceBitable, Operation: "viewAdd"}:      {"bitable:table:view:add"},
	{Resource: node.ResourceBitable, Operation: "viewGet"}:      {"bitable:table:view:get"},
	{Resource: node.ResourceBitable, Operation: "exportData"}:   {"bitable:aggregate:copyDataTableToBitable"},

	{Resource: node.ResourceChat, Operation: "removeMembers"}: {"chat:remove_members"},
	{Resource: node.ResourceDoc, Operation: "blockConvert"}:   {"doc:block:convert"},
	{Resource: node.ResourceTask, Operation: "removeMembers"}: {"task:remove_members"},

	{Resource: node.ResourceSpreadsheet, Operation: "addSheet"}:    {"spreadsheet:addSheets"},
	{Resource: node.ResourceSpreadsheet, Operation: "deleteSheet"}: {"spreadsheet:deleteSheets"},

	{Resource: node.ResourceWiki, Operation: "spaceGet"}:            {"wiki:spaces:info"},
	{Resource: node.ResourceWiki, Operation: "spaceSetting"}:        {"wiki:spaces:settings:update"},
	{Resource: node.ResourceWiki, Operation: "memberAdd"}:           {"wiki:spaces:members:add"},
	{Resource: node.ResourceWiki, Operation: "membersList"}:         {"wiki:spaces:members:get"},
	{Resource: node.ResourceWiki, Operation: "nodeGet"}:             {"wiki:spaces:node:info"},
	{Resource: node.ResourceWiki, Operation: "nodeCreate"}:          {"wiki:spaces:node:create"},
	{Resource: node.ResourceWiki, Operation: "nodeCopy"}:            {"wiki:spaces:node:copy"},
	{Resource: node.ResourceWiki, Operation: "nodeMove"}:            {"wiki:spaces:node:move"},
	{Resource: node.ResourceWiki, Operation: "nodeUpdateTitle"}:     {"wiki:spaces:node:updateTitle"},
	{Resource: node.ResourceWiki, Operation: "nodeChildren"}:        {"wiki:spaces:node:children"},
	{Resource: node.ResourceWiki, Operation: "nodeCreateHierarchy"}: {"wiki:spaces:node:create:hierarchy"},
}

// NewRegistry builds the operation registry.
func NewRegistry(opts Options) (*node.Registry, error) {
	return node.NewRegistry(Operations(opts)...)
}
