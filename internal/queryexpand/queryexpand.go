// Package queryexpand is the deterministic synonym expander applied only
// to the lexical search arm.
package queryexpand

import (
	"regexp"
	"strings"
)

var wordRe = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9+_.-]*`)

// MaxSynonymsPerTerm bounds how many synonyms a single matched term may
// contribute.
const MaxSynonymsPerTerm = 5

// synonyms is a bidirectional technical-term table (81 entries). Each
// key's value list is consulted both when the key is matched in the query
// and, via the reverse index built in init, when any of its values is
// matched.
var synonyms = map[string][]string{
	"js":           {"javascript", "ecmascript"},
	"ts":           {"typescript"},
	"db":           {"database", "datastore"},
	"k8s":          {"kubernetes"},
	"ai":           {"artificial intelligence", "machine learning"},
	"ml":           {"machine learning"},
	"llm":          {"large language model"},
	"api":          {"interface", "endpoint"},
	"http":         {"hypertext transfer protocol", "web"},
	"cli":          {"command line", "terminal"},
	"ui":           {"interface", "frontend"},
	"ux":           {"user experience"},
	"os":           {"operating system"},
	"vm":           {"virtual machine"},
	"cpu":          {"processor"},
	"gpu":          {"graphics card", "accelerator"},
	"ram":          {"memory"},
	"auth":         {"authentication", "authorization"},
	"repo":         {"repository"},
	"config":       {"configuration", "settings"},
	"env":          {"environment"},
	"func":         {"function"},
	"var":          {"variable"},
	"async":        {"asynchronous"},
	"sync":         {"synchronous"},
	"concurrency":  {"parallelism"},
	"thread":       {"goroutine", "worker"},
	"queue":        {"buffer", "channel"},
	"cache":        {"memoize", "buffer"},
	"bug":          {"defect", "issue"},
	"fix":          {"patch", "resolve"},
	"test":         {"spec", "unit test"},
	"deploy":       {"release", "ship"},
	"build":        {"compile"},
	"lib":          {"library", "package"},
	"pkg":          {"package"},
	"dep":          {"dependency"},
	"doc":          {"documentation"},
	"docs":         {"documentation"},
	"perf":         {"performance"},
	"optimize":     {"improve", "speed up"},
	"latency":      {"delay", "response time"},
	"throughput":   {"bandwidth"},
	"sql":          {"structured query language", "query"},
	"nosql":        {"document database"},
	"orm":          {"object relational mapper"},
	"rest":         {"restful", "http api"},
	"grpc":         {"remote procedure call"},
	"json":         {"javascript object notation"},
	"yaml":         {"yml"},
	"regex":        {"regular expression", "pattern"},
	"oop":          {"object oriented"},
	"fp":           {"functional programming"},
	"crud":         {"create read update delete"},
	"ci":           {"continuous integration"},
	"cd":           {"continuous delivery", "continuous deployment"},
	"devops":       {"operations"},
	"sre":          {"site reliability engineering"},
	"iam":          {"identity and access management"},
	"ssl":          {"tls", "encryption"},
	"tls":          {"ssl", "encryption"},
	"vpn":          {"virtual private network"},
	"dns":          {"domain name system"},
	"cdn":          {"content delivery network"},
	"saas":         {"software as a service"},
	"paas":         {"platform as a service"},
	"iaas":         {"infrastructure as a service"},
	"iot":          {"internet of things"},
	"ar":           {"augmented reality"},
	"vr":           {"virtual reality"},
	"nlp":          {"natural language processing"},
	"cv":           {"computer vision"},
	"embedding":    {"vector", "representation"},
	"rag":          {"retrieval augmented generation"},
	"token":        {"credential"},
	"schema":       {"structure", "shape"},
	"migration":    {"schema change"},
	"index":        {"key", "lookup structure"},
	"chunk":        {"segment", "passage"},
	"rank":         {"score", "order"},
	"rerank":       {"re-score"},
}

var reverse map[string][]string

func init() {
	reverse = make(map[string][]string)
	for k, vs := range synonyms {
		for _, v := range vs {
			reverse[strings.ToLower(v)] = append(reverse[strings.ToLower(v)], k)
		}
	}
}

// Expand appends up to MaxSynonymsPerTerm synonyms for each whole-word
// match found in query, preserving order and removing duplicates. It is
// deterministic: the same query always expands identically.
func Expand(query string) string {
	words := wordRe.FindAllString(query, -1)
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[strings.ToLower(w)] = struct{}{}
	}

	result := []string{query}
	appended := make(map[string]struct{})

	for _, w := range words {
		lower := strings.ToLower(w)
		candidates := synonyms[lower]
		if len(candidates) == 0 {
			candidates = reverse[lower]
		}
		count := 0
		for _, c := range candidates {
			if count >= MaxSynonymsPerTerm {
				break
			}
			if _, dup := seen[c]; dup {
				continue
			}
			if _, dup := appended[c]; dup {
				continue
			}
			result = append(result, c)
			appended[c] = struct{}{}
			count++
		}
	}
	return strings.Join(result, " ")
}
