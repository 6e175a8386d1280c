package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// correlationWindow is the widest time gap allowed between any two members
// of a group.
const correlationWindow = 72 * time.Hour

var (
	ticketKeyRe  = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}-\d+\b`)
	repoRefRe    = regexp.MustCompile(`\b([A-Za-z0-9][\w.-]*/[\w.-]+)#(\d+)\b`)
	urlRe        = regexp.MustCompile(`https?://[^\s<>"'()\[\]|]+`)
	shaRe        = regexp.MustCompile(`\b[0-9a-f]{7,40}\b`)
	digitRe      = regexp.MustCompile(`[0-9]`)
	hexLetterRe  = regexp.MustCompile(`[a-f]`)
	githubPathRe = regexp.MustCompile(`^/([^/]+/[^/]+)/(?:pull|issues)/(\d+)`)
	githubSHARe  = regexp.MustCompile(`^/[^/]+/[^/]+/commit/([0-9a-f]{7,40})`)
)

// Prefixes that look like ticket keys but name standards and encodings.
var notTicketPrefixes = map[string]bool{
	"UTF": true, "ISO": true, "RFC": true, "SHA": true, "AES": true,
	"TLS": true, "HTTP": true, "IPV": true, "GPT": true, "ES": true,
}

// Metadata fields scanned for references in addition to the title.
var referenceFields = []string{"key", "ref", "body", "message", "text", "excerpt", "description"}

const correlateSystem = `You review groups of work activities that were clustered because they share ticket keys, links or commit references.
For each group, write a short label (at most 8 words) naming the unit of work.
If the members of a group clearly do not belong to the same unit of work, set "reject": true.
Answer with JSON only: {"groups":[{"id":"<group id>","label":"...","reject":false}]}`

type correlateAnswer struct {
	Groups []struct {
		ID     string `json:"id"`
		Label  string `json:"label"`
		Reject bool   `json:"reject"`
	} `json:"groups"`
}

type verdict struct {
	label  string
	reject bool
}

type cluster struct {
	members []int // Indexes into the sorted activity slice.
}

// Correlate groups analyzed activities that represent one unit of work.
// Grouping is precision-first complete linkage: an activity joins a group
// only if it shares a reference with every member and lies within 72 hours
// of every member. The model labels multi-member groups and may dissolve a
// group into singletons; it can never merge. Every analyzed activity ends
// up in exactly one group.
func (p *Pipeline) Correlate(ctx context.Context, activities []model.Activity, analysis *model.Analysis, quality model.QualityLevel) (*model.Correlation, error) {
	h := p.selector.Select(model.StageCorrelated, quality)

	analyzed := analysis.ByActivity()
	acts := make([]model.Activity, 0, len(analyzed))
	for _, a := range activities {
		if _, ok := analyzed[a.ID()]; ok {
			acts = append(acts, a)
		}
	}
	sort.SliceStable(acts, func(i, j int) bool {
		if !acts[i].Timestamp.Equal(acts[j].Timestamp) {
			return acts[i].Timestamp.Before(acts[j].Timestamp)
		}
		return acts[i].ID() < acts[j].ID()
	})

	refs := make([]map[string]struct{}, len(acts))
	for i, a := range acts {
		refs[i] = References(a)
	}
	clusters := linkClusters(acts, refs)

	groups := make([]model.CorrelationGroup, len(clusters))
	var multi []int
	for i, c := range clusters {
		groups[i] = model.CorrelationGroup{
			ID:          fmt.Sprintf("g%d", i+1),
			Label:       acts[c.members[0]].Title,
			ActivityIDs: memberIDs(acts, c.members),
			References:  sharedReferences(refs, c.members),
		}
		if len(c.members) > 1 {
			multi = append(multi, i)
		}
	}

	out := &model.Correlation{Usage: model.Usage{Model: h.Name}}
	if len(multi) == 0 {
		out.Groups = renumber(groups)
		return out, nil
	}

	sizes := make([]int, len(multi))
	for i, gi := range multi {
		sizes[i] = len(clusters[gi].members)
	}
	verdicts := make(map[string]verdict, len(multi))
	for _, r := range batchBySize(sizes, groupBatchActivities) {
		batch := multi[r[0]:r[1]]
		payload := make([]map[string]any, 0, len(batch))
		for _, gi := range batch {
			members := make([]promptActivity, 0, len(clusters[gi].members))
			for _, m := range clusters[gi].members {
				c := analyzed[acts[m].ID()]
				members = append(members, toPromptActivity(acts[m], &c))
			}
			payload = append(payload, map[string]any{
				"id":         groups[gi].ID,
				"references": groups[gi].References,
				"activities": members,
			})
		}
		prompt := fmt.Sprintf("Review these %d groups:\n%s", len(batch), mustJSON(payload))

		var answer correlateAnswer
		usage, err := p.call(ctx, model.StageCorrelated, h, correlateMaxTokens, correlateSystem, prompt, func(raw []byte) error {
			answer = correlateAnswer{}
			return json.Unmarshal(raw, &answer)
		})
		out.Usage = out.Usage.Add(usage)
		if err != nil {
			return nil, err
		}
		for _, g := range answer.Groups {
			verdicts[g.ID] = verdict{label: g.Label, reject: g.Reject}
		}
	}

	final := make([]model.CorrelationGroup, 0, len(groups))
	for _, g := range groups {
		v, ok := verdicts[g.ID]
		if !ok || len(g.ActivityIDs) == 1 {
			final = append(final, g)
			continue
		}
		if v.reject {
			for _, id := range g.ActivityIDs {
				final = append(final, model.CorrelationGroup{ID: id, Label: titleOf(acts, id), ActivityIDs: []string{id}})
			}
			continue
		}
		if label := strings.TrimSpace(v.label); label != "" {
			g.Label = clip(label, 120)
		}
		final = append(final, g)
	}

	out.Groups = renumber(final)
	return out, nil
}

// linkClusters assigns each activity, in timestamp order, to the existing
// cluster it is compatible with on every member and shares the most
// references with; otherwise it starts a new cluster.
func linkClusters(acts []model.Activity, refs []map[string]struct{}) []cluster {
	var clusters []cluster
	for i := range acts {
		best, bestScore := -1, 0
		for ci, c := range clusters {
			score, ok := 0, true
			for _, m := range c.members {
				shared := countShared(refs[i], refs[m])
				if shared == 0 || absDuration(acts[i].Timestamp.Sub(acts[m].Timestamp)) > correlationWindow {
					ok = false
					break
				}
				score += shared
			}
			if ok && score > bestScore {
				best, bestScore = ci, score
			}
		}
		if best < 0 {
			clusters = append(clusters, cluster{members: []int{i}})
			continue
		}
		clusters[best].members = append(clusters[best].members, i)
	}
	return clusters
}

// renumber assigns sequential ids in group order.
func renumber(groups []model.CorrelationGroup) []model.CorrelationGroup {
	for i := range groups {
		groups[i].ID = fmt.Sprintf("g%d", i+1)
		if groups[i].References == nil {
			groups[i].References = []string{}
		}
	}
	return groups
}

// References extracts the identifiers an activity can be correlated on:
// ticket keys, repository-scoped issue and pull request numbers, commit
// SHAs and links, including the activity's own URL.
func References(a model.Activity) map[string]struct{} {
	out := make(map[string]struct{})

	texts := []string{a.Title}
	for _, f := range referenceFields {
		if v := a.RawMetadata[f]; v != "" {
			texts = append(texts, v)
		}
	}
	if a.URL != "" {
		texts = append(texts, a.URL)
	}

	if repo, num := a.RawMetadata["repo"], a.RawMetadata["number"]; repo != "" && num != "" {
		out["repo:"+strings.ToLower(repo)+"#"+num] = struct{}{}
	}
	if sha := a.RawMetadata["sha"]; len(sha) >= 7 {
		out["sha:"+strings.ToLower(sha[:7])] = struct{}{}
	}

	for _, t := range texts {
		for _, key := range ticketKeyRe.FindAllString(t, -1) {
			prefix := key[:strings.IndexByte(key, '-')]
			if !notTicketPrefixes[prefix] {
				out["key:"+key] = struct{}{}
			}
		}
		for _, m := range repoRefRe.FindAllStringSubmatch(t, -1) {
			out["repo:"+strings.ToLower(m[1])+"#"+m[2]] = struct{}{}
		}
		for _, sha := range shaRe.FindAllString(t, -1) {
			if digitRe.MatchString(sha) && hexLetterRe.MatchString(sha) {
				out["sha:"+sha[:7]] = struct{}{}
			}
		}
		for _, raw := range urlRe.FindAllString(t, -1) {
			addURLReference(out, raw)
		}
	}
	return out
}

func addURLReference(out map[string]struct{}, raw string) {
	u, err := url.Parse(strings.TrimRight(raw, ".,;:!?"))
	if err != nil || u.Host == "" {
		return
	}
	host := strings.ToLower(u.Hostname())
	path := strings.TrimRight(u.EscapedPath(), "/")

	if host == "github.com" {
		if m := githubPathRe.FindStringSubmatch(path); m != nil {
			out["repo:"+strings.ToLower(m[1])+"#"+m[2]] = struct{}{}
			return
		}
		if m := githubSHARe.FindStringSubmatch(path); m != nil {
			out["sha:"+m[1][:7]] = struct{}{}
			return
		}
	}

	// Bare hosts and single-segment paths name whole sites or orgs, which
	// would group unrelated work.
	if strings.Count(path, "/") < 2 {
		return
	}
	// Some links carry the item identity in the query (calendar events use
	// ?eid=), so the query is part of the reference. Tracking parameters
	// are not.
	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	key := "url:" + host + path
	if len(q) > 0 {
		key += "?" + q.Encode()
	}
	out[key] = struct{}{}
}

func countShared(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for r := range a {
		if _, ok := b[r]; ok {
			n++
		}
	}
	return n
}

// sharedReferences returns the references common to every member, sorted.
func sharedReferences(refs []map[string]struct{}, members []int) []string {
	if len(members) < 2 {
		return []string{}
	}
	var out []string
	for r := range refs[members[0]] {
		all := true
		for _, m := range members[1:] {
			if _, ok := refs[m][r]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		// Complete linkage only guarantees pairwise overlap.
		seen := make(map[string]int)
		for _, m := range members {
			for r := range refs[m] {
				seen[r]++
			}
		}
		for r, n := range seen {
			if n > 1 {
				out = append(out, r)
			}
		}
	}
	sort.Strings(out)
	return out
}

func memberIDs(acts []model.Activity, members []int) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = acts[m].ID()
	}
	return out
}

func titleOf(acts []model.Activity, id string) string {
	for _, a := range acts {
		if a.ID() == id {
			return a.Title
		}
	}
	return id
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
