// Package chembl resolves drug names against the ChEMBL REST API and
// builds a compact molecular profile (identifier plus most-assayed targets)
// for the synthesis prompt.
package chembl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/biocite/biocite/internal/cache"
)

// DefaultBaseURL is the public ChEMBL data API.
const DefaultBaseURL = "https://www.ebi.ac.uk/chembl/api/data"

// formHints mark names that are a salt or hydrate form rather than the
// parent compound; such candidates are demoted during resolution.
var formHints = []string{
	"hydrochloride", "hcl", "sodium", "potassium", "calcium",
	"monohydrate", "hydrate", "tartrate", "phosphate", "sulfate",
	"mesylate", "maleate", "acetate", "bromide", "chloride",
}

// Molecule is one search candidate.
type Molecule struct {
	ChemblID string `json:"molecule_chembl_id"`
	PrefName string `json:"pref_name"`
}

// Resolution is the outcome of mapping a free-text drug name to a ChEMBL
// identifier. MatchReason is "exact", "high_confidence_fuzzy", "fuzzy" or
// "no_results".
type Resolution struct {
	Query         string   `json:"query"`
	ChemblID      string   `json:"best_chembl_id"`
	PreferredName string   `json:"preferred_name"`
	MatchReason   string   `json:"match_reason"`
	Alternatives  []string `json:"alternatives"`
}

// Target is one protein target with the number of recorded activities that
// link it to the molecule.
type Target struct {
	ChemblID   string `json:"target_chembl_id"`
	Name       string `json:"target_pref_name"`
	Activities int    `json:"activities"`
}

// MoleculePack is the mechanistic context handed to prompt building.
type MoleculePack struct {
	ChemblID      string   `json:"chembl_id"`
	PreferredName string   `json:"preferred_name"`
	TopTargets    []Target `json:"top_targets"`
}

// TargetNames returns the target display names in rank order.
func (p *MoleculePack) TargetNames() []string {
	out := make([]string, 0, len(p.TopTargets))
	for _, t := range p.TopTargets {
		if t.Name != "" {
			out = append(out, t.Name)
		}
	}
	return out
}

// Client talks to the ChEMBL REST API with retries and two cache tiers.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Disk       *cache.Disk

	mem   *gocache.Cache
	sleep func(time.Duration)
}

func NewClient(disk *cache.Disk) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Disk:       disk,
		mem:        gocache.New(time.Hour, 2*time.Hour),
		sleep:      time.Sleep,
	}
}

const getRetries = 3

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	key := cache.KeyFrom("chembl", u)
	if c.mem != nil {
		if v, ok := c.mem.Get(key); ok {
			return v.([]byte), nil
		}
	}
	if c.Disk != nil {
		if data, ok, err := c.Disk.Get(ctx, key); err == nil && ok {
			return data, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < getRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("chembl %s status %d", endpoint, resp.StatusCode)
			case resp.StatusCode < 200 || resp.StatusCode > 299:
				return nil, fmt.Errorf("chembl %s status %d", endpoint, resp.StatusCode)
			case readErr != nil:
				lastErr = readErr
			default:
				if c.mem != nil {
					c.mem.Set(key, body, gocache.DefaultExpiration)
				}
				if c.Disk != nil {
					_ = c.Disk.Save(ctx, key, body)
				}
				return body, nil
			}
		}
		if attempt < getRetries-1 {
			c.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return nil, fmt.Errorf("chembl %s failed after %d attempts: %w", endpoint, getRetries, lastErr)
}

// MoleculeSearch queries /molecule/search and returns the raw candidates.
func (c *Client) MoleculeSearch(ctx context.Context, query string, limit int) ([]Molecule, error) {
	if limit <= 0 {
		limit = 25
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	body, err := c.get(ctx, "/molecule/search.json", params)
	if err != nil {
		return nil, err
	}
	var res struct {
		Molecules []Molecule `json:"molecules"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode molecule search: %w", err)
	}
	return res.Molecules, nil
}

// Resolve maps a free-text drug name to its best ChEMBL candidate using
// fuzzy name scoring. Salt and hydrate forms are demoted when the query
// itself does not name one.
func (c *Client) Resolve(ctx context.Context, drug string) (*Resolution, error) {
	mols, err := c.MoleculeSearch(ctx, drug, 25)
	if err != nil {
		return nil, err
	}

	type scored struct {
		mol   Molecule
		score float64
	}
	var parsed []scored
	for _, m := range mols {
		if m.ChemblID == "" {
			continue
		}
		parsed = append(parsed, scored{mol: m, score: scoreCandidate(drug, m.PrefName)})
	}
	if len(parsed) == 0 {
		return &Resolution{Query: drug, MatchReason: "no_results"}, nil
	}
	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].score > parsed[j].score })

	best := parsed[0]
	q, pn := normName(drug), normName(best.mol.PrefName)
	reason := "fuzzy"
	switch {
	case q == pn:
		reason = "exact"
	case tokenSetRatio(q, pn) >= 90:
		reason = "high_confidence_fuzzy"
	}

	var alts []string
	for _, p := range parsed[1:] {
		alts = append(alts, p.mol.ChemblID)
		if len(alts) == 5 {
			break
		}
	}

	res := &Resolution{
		Query:         drug,
		ChemblID:      best.mol.ChemblID,
		PreferredName: best.mol.PrefName,
		MatchReason:   reason,
		Alternatives:  alts,
	}
	log.Debug().Str("drug", drug).Str("chembl_id", res.ChemblID).Str("reason", reason).Msg("drug resolved")
	return res, nil
}

type activityPage struct {
	Activities []struct {
		TargetChemblID string `json:"target_chembl_id"`
		TargetPrefName string `json:"target_pref_name"`
	} `json:"activities"`
	PageMeta struct {
		Next string `json:"next"`
	} `json:"page_meta"`
}

// BuildMoleculePack fetches recorded activities for the molecule and ranks
// targets by how often they were assayed. maxActivities bounds how many
// activity rows are pulled across pages.
func (c *Client) BuildMoleculePack(ctx context.Context, res *Resolution, maxActivities int) (*MoleculePack, error) {
	if res == nil || res.ChemblID == "" {
		return nil, fmt.Errorf("chembl: no resolved molecule")
	}
	if maxActivities <= 0 {
		maxActivities = 200
	}
	const pageSize = 100

	counts := map[string]*Target{}
	fetched := 0
	for offset := 0; fetched < maxActivities; offset += pageSize {
		params := url.Values{}
		params.Set("molecule_chembl_id", res.ChemblID)
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(offset))
		body, err := c.get(ctx, "/activity.json", params)
		if err != nil {
			return nil, err
		}
		var page activityPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode activity page: %w", err)
		}
		if len(page.Activities) == 0 {
			break
		}
		for _, a := range page.Activities {
			if a.TargetChemblID == "" {
				continue
			}
			t, ok := counts[a.TargetChemblID]
			if !ok {
				t = &Target{ChemblID: a.TargetChemblID, Name: a.TargetPrefName}
				counts[a.TargetChemblID] = t
			}
			t.Activities++
		}
		fetched += len(page.Activities)
		if page.PageMeta.Next == "" {
			break
		}
	}

	targets := make([]Target, 0, len(counts))
	for _, t := range counts {
		targets = append(targets, *t)
	}
	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].Activities != targets[j].Activities {
			return targets[i].Activities > targets[j].Activities
		}
		return targets[i].Name < targets[j].Name
	})
	if len(targets) > 10 {
		targets = targets[:10]
	}

	return &MoleculePack{
		ChemblID:      res.ChemblID,
		PreferredName: res.PreferredName,
		TopTargets:    targets,
	}, nil
}

func normName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func looksLikeForm(name string) bool {
	n := normName(name)
	for _, h := range formHints {
		if strings.Contains(n, h) {
			return true
		}
	}
	return false
}

// scoreCandidate ranks a preferred name against the query. The base score
// is a token-set similarity; salt forms lose points when the query is the
// parent name, empty names are heavily demoted, and substring hits get a
// small boost.
func scoreCandidate(query, prefName string) float64 {
	q, pn := normName(query), normName(prefName)
	score := tokenSetRatio(q, pn)
	if looksLikeForm(pn) && !looksLikeForm(q) {
		score -= 12
	}
	if pn == "" {
		score -= 30
	}
	if q != "" && strings.Contains(pn, q) {
		score += 4
	}
	return score
}

// tokenSetRatio compares two strings as token sets: the shared tokens are
// measured against each side's leftovers and the best pairing wins. It is
// insensitive to word order and to extra tokens shared by both names.
func tokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	var inter, onlyA, onlyB []string
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if _, ok := ta[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(inter, " ")
	s1 := base
	s2 := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	s3 := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := simRatio(s1, s2)
	if r := simRatio(s1, s3); r > best {
		best = r
	}
	if r := simRatio(s2, s3); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Fields(s) {
		out[t] = struct{}{}
	}
	return out
}

// simRatio is a normalized Levenshtein similarity on [0,100].
func simRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	max := len([]rune(a))
	if lb := len([]rune(b)); lb > max {
		max = lb
	}
	d := levenshtein(a, b)
	return (1 - float64(d)/float64(max)) * 100
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			m := prev[j] + 1
			if v := cur[j-1] + 1; v < m {
				m = v
			}
			if v := prev[j-1] + cost; v < m {
				m = v
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
