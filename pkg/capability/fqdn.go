package capability

import (
	"regexp"
	"strings"
)

// OrgProject is the fixed org.project prefix for every FQDN this mediator
// generates ("<org>.<project>.<namespace>.<action>.<hash8>").
const OrgProject = "casys.pml"

var nonWordRun = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateFQDN builds a capability FQDN from the intent text that produced
// it and the capability's code hash.
func GenerateFQDN(intentText, codeHash string) string {
	namespace, action := splitIntent(intentText)
	hash8 := codeHash
	if len(hash8) > 8 {
		hash8 = hash8[:8]
	}
	return strings.Join([]string{OrgProject, namespace, action, hash8}, ".")
}

// splitIntent applies a noun-phrase + verb heuristic to an intent string:
// the first verb-like token becomes the action, everything else becomes
// the namespace. Falls back to "general"/"task" when the heuristic can't
// find a usable split.
func splitIntent(intentText string) (namespace, action string) {
	words := strings.Fields(strings.ToLower(intentText))
	if len(words) == 0 {
		return "general", "task"
	}

	verbIdx := -1
	for i, w := range words {
		if isLikelyVerb(w) {
			verbIdx = i
			break
		}
	}

	if verbIdx < 0 {
		action = slugify(words[len(words)-1])
		namespace = slugify(strings.Join(words[:len(words)-1], "-"))
	} else {
		action = slugify(words[verbIdx])
		rest := append(append([]string{}, words[:verbIdx]...), words[verbIdx+1:]...)
		namespace = slugify(strings.Join(rest, "-"))
	}

	if namespace == "" {
		namespace = "general"
	}
	if action == "" {
		action = "task"
	}
	return namespace, action
}

// commonVerbs covers the action vocabulary typical of tool-use intents;
// this is a heuristic, not an exhaustive classifier.
var commonVerbs = map[string]bool{
	"get": true, "list": true, "create": true, "update": true, "delete": true,
	"fetch": true, "query": true, "search": true, "find": true, "check": true,
	"restart": true, "scale": true, "deploy": true, "rollback": true, "analyze": true,
	"summarize": true, "diagnose": true, "investigate": true, "remediate": true,
	"send": true, "notify": true, "compute": true, "run": true, "execute": true,
	"monitor": true, "report": true, "validate": true, "cleanup": true, "clean": true,
}

func isLikelyVerb(word string) bool {
	return commonVerbs[word]
}

func slugify(s string) string {
	s = nonWordRun.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}
