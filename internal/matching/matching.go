// Package matching decides which login items to suggest for a website or app.
package matching

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/PolarWolf314/sharevault/internal/items"
)

// Request describes what is asking for credentials. Either field may be empty.
type Request struct {
	URL         string
	PackageName string
}

// Candidate is a login item eligible for suggestion.
type Candidate struct {
	ShareID      string
	ItemID       string
	Title        string
	URLs         []string
	PackageNames []string
}

// FromItem builds a Candidate from decrypted contents. Items without login
// data are not candidates.
func FromItem(shareID, itemID string, contents items.ItemContents) (Candidate, bool) {
	if contents.Login == nil {
		return Candidate{}, false
	}
	return Candidate{
		ShareID:      shareID,
		ItemID:       itemID,
		Title:        contents.Title,
		URLs:         contents.Login.URLs,
		PackageNames: contents.Login.PackageNames,
	}, true
}

// SuggestionSource says why an item matched.
type SuggestionSource interface {
	// Strength orders sources; higher is a closer match.
	Strength() int
	isSuggestionSource()
}

// PackageMatch is an app whose package name is stored on the item.
type PackageMatch struct {
	PackageName string
}

// ExactHostMatch is a URL whose host equals a stored URL's host.
type ExactHostMatch struct {
	Host string
}

// DomainMatch is a URL on the same registrable domain as a stored URL,
// e.g. login.example.co.uk and www.example.co.uk.
type DomainMatch struct {
	Domain string
}

func (PackageMatch) Strength() int   { return 3 }
func (ExactHostMatch) Strength() int { return 2 }
func (DomainMatch) Strength() int    { return 1 }

func (PackageMatch) isSuggestionSource()   {}
func (ExactHostMatch) isSuggestionSource() {}
func (DomainMatch) isSuggestionSource()    {}

// Suggestion is one matching item.
type Suggestion struct {
	Candidate Candidate
	Source    SuggestionSource
}

// Suggest returns the candidates matching request, strongest match first,
// then by title. Each candidate appears at most once, with its best source.
func Suggest(request Request, candidates []Candidate) []Suggestion {
	target, hasTarget := parseHost(request.URL)
	packageName := strings.TrimSpace(request.PackageName)

	var suggestions []Suggestion
	for _, candidate := range candidates {
		var best SuggestionSource

		if packageName != "" {
			for _, name := range candidate.PackageNames {
				if strings.EqualFold(strings.TrimSpace(name), packageName) {
					best = PackageMatch{PackageName: packageName}
					break
				}
			}
		}

		if best == nil && hasTarget {
			for _, raw := range candidate.URLs {
				stored, ok := parseHost(raw)
				if !ok {
					continue
				}
				source := compareHosts(target, stored)
				if source != nil && (best == nil || source.Strength() > best.Strength()) {
					best = source
				}
			}
		}

		if best != nil {
			suggestions = append(suggestions, Suggestion{Candidate: candidate, Source: best})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		si, sj := suggestions[i].Source.Strength(), suggestions[j].Source.Strength()
		if si != sj {
			return si > sj
		}
		return strings.ToLower(suggestions[i].Candidate.Title) < strings.ToLower(suggestions[j].Candidate.Title)
	})
	return suggestions
}

type host struct {
	name   string
	domain string
}

// parseHost accepts bare hosts as well as URLs. Only http and https URLs
// are considered.
func parseHost(raw string) (host, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return host{}, false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return host{}, false
	}

	name := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if name == "" {
		return host{}, false
	}

	h := host{name: name}
	if net.ParseIP(name) == nil {
		if domain, err := publicsuffix.EffectiveTLDPlusOne(name); err == nil {
			h.domain = domain
		}
	}
	return h, true
}

func compareHosts(target, stored host) SuggestionSource {
	if target.name == stored.name {
		return ExactHostMatch{Host: target.name}
	}
	if target.domain != "" && target.domain == stored.domain {
		return DomainMatch{Domain: target.domain}
	}
	return nil
}
