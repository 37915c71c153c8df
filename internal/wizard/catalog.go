package wizard

import "bidmarket/internal/models"

type Package struct {
	Tier     models.PackageTier `json:"id"`
	Name     string             `json:"name"`
	Features []string           `json:"features"`
}

type Service struct {
	Category    models.Category `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Icon        string          `json:"icon"`
	Packages    []Package       `json:"packages"`
}

var Catalog = []Service{
	{
		Category:    models.CategoryInstagram,
		Title:       "Organic Instagram",
		Description: "Grow your brand organically with consistent, high-quality content and engagement.",
		Icon:        "📸",
		Packages: []Package{
			{Tier: models.TierBasic, Name: "Basic", Features: []string{"4 posts a month", "Stories 4 times a week", "Basic community management", "Monthly report"}},
			{Tier: models.TierAdvanced, Name: "Advanced", Features: []string{"8 posts a month", "Daily stories", "Full community management and replies", "Detailed performance report"}},
			{Tier: models.TierPro, Name: "Pro", Features: []string{"12 posts a month", "2 Reels videos", "Daily designed stories", "Basic paid campaign management"}},
		},
	},
	{
		Category:    models.CategoryPPC,
		Title:       "PPC Campaigns",
		Description: "Drive targeted traffic and leads instantly with optimized Pay-Per-Click campaigns.",
		Icon:        "🚀",
		Packages: []Package{
			{Tier: models.TierBasic, Name: "Basic", Features: []string{"Single campaign setup", "Basic keywords", "Monthly report", "Media budget up to 2000"}},
			{Tier: models.TierAdvanced, Name: "Advanced", Features: []string{"Up to 3 campaigns", "Remarketing", "Ad copywriting", "Weekly optimization"}},
			{Tier: models.TierPro, Name: "Pro", Features: []string{"Unlimited campaigns", "Banner design", "Dedicated landing pages", "Daily optimization"}},
		},
	},
	{
		Category:    models.CategorySEO,
		Title:       "SEO/Content",
		Description: "Build long-term authority and rank higher on search engines with strategic content.",
		Icon:        "✍️",
		Packages: []Package{
			{Tier: models.TierBasic, Name: "Basic", Features: []string{"Keyword research", "Basic technical optimization", "One article a month", "Rankings report"}},
			{Tier: models.TierAdvanced, Name: "Advanced", Features: []string{"3 articles a month", "Link building (2 a month)", "Conversion optimization", "Competitor research"}},
			{Tier: models.TierPro, Name: "Pro", Features: []string{"6 articles a month", "Quality link building", "Toxic link cleanup", "Full strategic guidance"}},
		},
	},
}

func LookupService(c models.Category) (Service, bool) {
	for _, s := range Catalog {
		if s.Category == c {
			return s, true
		}
	}
	return Service{}, false
}

func LookupPackage(c models.Category, t models.PackageTier) (Package, bool) {
	s, ok := LookupService(c)
	if !ok {
		return Package{}, false
	}
	for _, p := range s.Packages {
		if p.Tier == t {
			return p, true
		}
	}
	return Package{}, false
}

// Title names a project after its service and package, e.g. "PPC Campaigns - Pro".
func Title(c models.Category, t models.PackageTier) string {
	s, ok := LookupService(c)
	if !ok {
		return string(c)
	}
	if p, ok := LookupPackage(c, t); ok {
		return s.Title + " - " + p.Name
	}
	return s.Title
}
