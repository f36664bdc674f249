package resolver

import (
	"modelql/internal/cursor"
	"modelql/internal/pagination"
)

// connectionResult materializes a Relay connection map from a fetched page.
// start is the zero-based offset of the first node within the full set,
// total the size of the full set.
func connectionResult(nodes []map[string]any, total, start int) map[string]any {
	if nodes == nil {
		nodes = []map[string]any{}
	}
	edges := make([]map[string]any, len(nodes))
	for i, node := range nodes {
		edges[i] = map[string]any{
			"cursor": cursor.OffsetToCursor(start + i),
			"node":   node,
		}
	}

	pageInfo := map[string]any{
		"hasPreviousPage": start > 0,
		"hasNextPage":     start+len(nodes) < total,
		"startCursor":     nil,
		"endCursor":       nil,
	}
	if len(nodes) > 0 {
		pageInfo["startCursor"] = cursor.OffsetToCursor(start)
		pageInfo["endCursor"] = cursor.OffsetToCursor(start + len(nodes) - 1)
	}

	return map[string]any{
		"edges":      edges,
		"nodes":      nodes,
		"pageInfo":   pageInfo,
		"totalCount": total,
	}
}

// connectionFromArgs builds the top-level connection result once pagination
// has resolved the window against the real total.
func connectionFromArgs(nodes []map[string]any, args *pagination.Args) map[string]any {
	total := len(nodes)
	if args.TotalCount != nil {
		total = *args.TotalCount
	}
	return connectionResult(nodes, total, args.Start)
}
