// Package pubmed retrieves biomedical abstracts through the NCBI
// E-utilities (esearch + efetch) and turns them into the snippet evidence
// pack the synthesis prompt consumes.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/biocite/biocite/internal/cache"
	"github.com/biocite/biocite/internal/snippet"
)

const (
	// DefaultBaseURL is the public E-utilities endpoint.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// packVersion participates in the disk cache key so a parser change
	// invalidates stale packs.
	packVersion = "v4"

	maxRetries = 4
)

// Paper is one parsed PubmedArticle record.
type Paper struct {
	PMID     string   `json:"pmid"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Journal  string   `json:"journal"`
	Year     string   `json:"year"`
	Authors  []string `json:"authors,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	PubTypes []string `json:"pub_types,omitempty"`
}

// Pack bundles one disease/drug retrieval: the query sent to PubMed, the
// PMIDs it returned, and the parsed papers that carry a real abstract.
type Pack struct {
	Disease     string    `json:"disease"`
	Drug        string    `json:"drug"`
	Query       string    `json:"query"`
	PMIDs       []string  `json:"pmids"`
	Papers      []Paper   `json:"papers"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Client talks to the E-utilities. NCBI asks callers to identify their tool
// and email and to stay under ~3 requests per second without an API key;
// Limiter enforces that.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Tool       string
	Email      string
	Limiter    *rate.Limiter
	Disk       *cache.Disk

	mem   *gocache.Cache
	sleep func(time.Duration)
}

// NewClient returns a polite client with the documented public rate limit
// and a 15-minute in-process cache for repeated searches.
func NewClient(tool, email string, disk *cache.Disk) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Tool:       tool,
		Email:      email,
		Limiter:    rate.NewLimiter(rate.Limit(3), 1),
		Disk:       disk,
		mem:        gocache.New(15*time.Minute, 30*time.Minute),
		sleep:      time.Sleep,
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	params.Set("tool", c.Tool)
	if c.Email != "" {
		params.Set("email", c.Email)
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/" + endpoint + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := readAll(resp)
			switch {
			case resp.StatusCode == http.StatusTooManyRequests ||
				resp.StatusCode == http.StatusInternalServerError ||
				resp.StatusCode == http.StatusBadGateway ||
				resp.StatusCode == http.StatusServiceUnavailable:
				lastErr = fmt.Errorf("ncbi %s status %d", endpoint, resp.StatusCode)
			case resp.StatusCode < 200 || resp.StatusCode > 299:
				return nil, fmt.Errorf("ncbi %s status %d", endpoint, resp.StatusCode)
			case readErr != nil:
				lastErr = readErr
			default:
				return body, nil
			}
		}
		if attempt < maxRetries-1 {
			c.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return nil, fmt.Errorf("ncbi %s failed after %d attempts: %w", endpoint, maxRetries, lastErr)
}

func readAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Search runs esearch and returns PMIDs. sort is "relevance" or "date".
func (c *Client) Search(ctx context.Context, term string, retmax int, sort string) ([]string, error) {
	if retmax <= 0 {
		retmax = 20
	}
	if sort == "" {
		sort = "relevance"
	}
	memKey := term + "|" + strconv.Itoa(retmax) + "|" + sort
	if c.mem != nil {
		if v, ok := c.mem.Get(memKey); ok {
			return v.([]string), nil
		}
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", term)
	params.Set("retmax", strconv.Itoa(retmax))
	params.Set("retmode", "json")
	params.Set("sort", sort)
	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var res struct {
		Result struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode esearch response: %w", err)
	}
	if c.mem != nil {
		c.mem.Set(memKey, res.Result.IDList, gocache.DefaultExpiration)
	}
	return res.Result.IDList, nil
}

// Fetch runs efetch for the given PMIDs and parses the article XML.
func (c *Client) Fetch(ctx context.Context, pmids []string) ([]Paper, error) {
	if len(pmids) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")
	params.Set("rettype", "abstract")
	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, err
	}
	return ParseArticleXML(body)
}

// EvidencePack searches PubMed for co-mentions of disease and drug in
// title/abstract fields, fetches the abstracts, and keeps only papers with
// a non-empty abstract. Results are cached on disk keyed by the full query
// shape.
func (c *Client) EvidencePack(ctx context.Context, disease, drug string, n int, sort string) (*Pack, error) {
	if n <= 0 {
		n = 20
	}
	if sort == "" {
		sort = "relevance"
	}
	query := fmt.Sprintf("(%q[Title/Abstract]) AND (%q[Title/Abstract])", disease, drug)

	key := cache.KeyFrom("pubmed", strings.Join([]string{packVersion, disease, drug, strconv.Itoa(n), sort}, "|"))
	if c.Disk != nil {
		if data, ok, err := c.Disk.Get(ctx, key); err == nil && ok {
			var p Pack
			if err := json.Unmarshal(data, &p); err == nil {
				log.Debug().Str("disease", disease).Str("drug", drug).Msg("pubmed pack served from cache")
				return &p, nil
			}
		}
	}

	pmids, err := c.Search(ctx, query, n, sort)
	if err != nil {
		return nil, err
	}
	pack := &Pack{
		Disease:     disease,
		Drug:        drug,
		Query:       query,
		PMIDs:       pmids,
		GeneratedAt: time.Now().UTC(),
	}
	if len(pmids) > 0 {
		papers, err := c.Fetch(ctx, pmids)
		if err != nil {
			return nil, err
		}
		for _, p := range papers {
			if strings.TrimSpace(p.Abstract) == "" {
				continue
			}
			pack.Papers = append(pack.Papers, p)
		}
	}
	log.Info().Str("disease", disease).Str("drug", drug).
		Int("pmids", len(pack.PMIDs)).Int("papers", len(pack.Papers)).
		Msg("pubmed evidence pack built")

	if c.Disk != nil {
		if data, err := json.Marshal(pack); err == nil {
			_ = c.Disk.Save(ctx, key, data)
		}
	}
	return pack, nil
}

const (
	defaultMaxSnippets  = 12
	abstractCharLimit   = 900
	pubmedArticleBase   = "https://pubmed.ncbi.nlm.nih.gov/"
)

// Snippets converts a pack's papers into prompt snippets S1..Sn. Abstracts
// are flattened to one line and truncated at a word boundary so a single
// snippet cannot dominate the context window.
func Snippets(pack *Pack, max int) []snippet.Snippet {
	if max <= 0 {
		max = defaultMaxSnippets
	}
	papers := pack.Papers
	if len(papers) > max {
		papers = papers[:max]
	}
	out := make([]snippet.Snippet, 0, len(papers))
	for i, p := range papers {
		sid := fmt.Sprintf("S%d", i+1)
		abstract := strings.ReplaceAll(strings.TrimSpace(p.Abstract), "\n", " ")
		if len(abstract) > abstractCharLimit {
			cut := abstract[:abstractCharLimit]
			if idx := strings.LastIndex(cut, " "); idx > 0 {
				cut = cut[:idx]
			}
			abstract = cut + "..."
		}
		text := fmt.Sprintf("[%s] Title: %s\nYear: %s | Journal: %s | PMID: %s\nAbstract: %s",
			sid, strings.TrimSpace(p.Title), p.Year, p.Journal, p.PMID, abstract)
		var u string
		if p.PMID != "" {
			u = pubmedArticleBase + p.PMID + "/"
		}
		out = append(out, snippet.Snippet{
			SID:   sid,
			Title: strings.TrimSpace(p.Title),
			URL:   u,
			Text:  text,
		})
	}
	return out
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Inner string `xml:",innerxml"`
}

type articleSet struct {
	Articles []struct {
		Medline struct {
			PMID    string `xml:"PMID"`
			Article struct {
				// Titles carry inline markup (<i>, <sub>) the same way
				// abstracts do, so chardata decoding would drop nested text.
				Title    abstractText `xml:"ArticleTitle"`
				Abstract struct {
					Texts []abstractText `xml:"AbstractText"`
				} `xml:"Abstract"`
				Journal struct {
					Title string `xml:"Title"`
					Issue struct {
						PubDate struct {
							Year        string `xml:"Year"`
							MedlineDate string `xml:"MedlineDate"`
						} `xml:"PubDate"`
					} `xml:"JournalIssue"`
				} `xml:"Journal"`
				Authors []struct {
					Collective string `xml:"CollectiveName"`
					Fore       string `xml:"ForeName"`
					Last       string `xml:"LastName"`
				} `xml:"AuthorList>Author"`
				PubTypes []string `xml:"PublicationTypeList>PublicationType"`
			} `xml:"Article"`
		} `xml:"MedlineCitation"`
		ArticleIDs []struct {
			Type  string `xml:"IdType,attr"`
			Value string `xml:",chardata"`
		} `xml:"PubmedData>ArticleIdList>ArticleId"`
	} `xml:"PubmedArticle"`
}

// ParseArticleXML decodes an efetch PubmedArticleSet document. Abstract
// sections keep their labels (BACKGROUND, RESULTS, ...) and inline markup
// such as <i> or <sup> is stripped to plain text.
func ParseArticleXML(data []byte) ([]Paper, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var set articleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode efetch response: %w", err)
	}

	papers := make([]Paper, 0, len(set.Articles))
	for _, a := range set.Articles {
		art := a.Medline.Article
		var parts []string
		for _, at := range art.Abstract.Texts {
			txt := strings.TrimSpace(stripMarkup(at.Inner))
			if txt == "" {
				continue
			}
			if at.Label != "" {
				txt = at.Label + ": " + txt
			}
			parts = append(parts, txt)
		}

		var authors []string
		for _, au := range art.Authors {
			if au.Collective != "" {
				authors = append(authors, au.Collective)
				continue
			}
			full := strings.TrimSpace(au.Fore + " " + au.Last)
			if full != "" {
				authors = append(authors, full)
			}
		}
		if len(authors) > 10 {
			authors = authors[:10]
		}

		var doi string
		for _, id := range a.ArticleIDs {
			if id.Type == "doi" {
				doi = strings.TrimSpace(id.Value)
				break
			}
		}

		year := art.Journal.Issue.PubDate.Year
		if year == "" {
			year = art.Journal.Issue.PubDate.MedlineDate
		}

		pubTypes := art.PubTypes
		if len(pubTypes) > 8 {
			pubTypes = pubTypes[:8]
		}

		papers = append(papers, Paper{
			PMID:     strings.TrimSpace(a.Medline.PMID),
			Title:    strings.TrimSpace(stripMarkup(art.Title.Inner)),
			Abstract: strings.Join(parts, "\n"),
			Journal:  art.Journal.Title,
			Year:     year,
			Authors:  authors,
			DOI:      doi,
			PubTypes: pubTypes,
		})
	}
	return papers, nil
}

// stripMarkup flattens the inline HTML-ish markup PubMed embeds in titles
// and abstracts (<i>, <sub>, <sup>) into plain text.
func stripMarkup(s string) string {
	if !strings.Contains(s, "<") {
		return html.UnescapeString(s)
	}
	var b strings.Builder
	tok := html.NewTokenizer(strings.NewReader(s))
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(tok.Text())
		}
	}
}
