package endpoint

import (
	"fmt"
	"regexp"
)

// idRegex validates the "server:tool" format used for Tool.ID throughout
// the mediator. Both parts must start with a word character and contain
// only word characters and hyphens.
var idRegex = regexp.MustCompile(`^([\w][\w-]*):([\w][\w-]*)$`)

// SplitToolID splits "server:tool" into (endpointID, toolName, error).
func SplitToolID(id string) (endpointID, toolName string, err error) {
	matches := idRegex.FindStringSubmatch(id)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool id %q: must be in 'server:tool' format (e.g., 'k8s-server:get_pods')", id)
	}
	return matches[1], matches[2], nil
}

// JoinToolID builds the canonical Tool.ID from its endpoint and tool name.
func JoinToolID(endpointID, toolName string) string {
	return endpointID + ":" + toolName
}
