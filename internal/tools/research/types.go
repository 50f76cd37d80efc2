package research

// KeywordRequest asks for keyword ideas around a set of seeds.
type KeywordRequest struct {
	SeedKeywords []string `json:"seed_keywords" jsonschema:"minItems=1,description=Seed keywords or phrases to expand"`
	Location     string   `json:"location,omitempty" jsonschema:"description=Target location name or geo target id"`
	Language     string   `json:"language,omitempty" jsonschema:"description=Language code such as en"`
	Limit        int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=200,description=Maximum number of ideas to return"`
}

// KeywordIdea is one suggested keyword with its planning metrics.
type KeywordIdea struct {
	Keyword            string  `json:"keyword"`
	AvgMonthlySearches int64   `json:"avg_monthly_searches"`
	Competition        string  `json:"competition"`
	LowTopOfPageBid    float64 `json:"low_top_of_page_bid"`
	HighTopOfPageBid   float64 `json:"high_top_of_page_bid"`
}

// KeywordReport is the keyword ideas response.
type KeywordReport struct {
	Ideas []KeywordIdea `json:"ideas"`
}

// CompetitorRequest asks for an analysis of a domain's paid-search competitors.
type CompetitorRequest struct {
	Domain      string   `json:"domain" jsonschema:"description=Advertiser domain such as example.com"`
	Competitors []string `json:"competitors,omitempty" jsonschema:"description=Competitor domains; discovered automatically when empty"`
}

// CompetitorProfile summarizes one competitor.
type CompetitorProfile struct {
	Domain                string   `json:"domain"`
	EstimatedMonthlySpend float64  `json:"estimated_monthly_spend"`
	KeywordOverlap        float64  `json:"keyword_overlap"`
	TopKeywords           []string `json:"top_keywords"`
	SampleAds             []string `json:"sample_ads,omitempty"`
}

// CompetitorReport is the competitor analysis response.
type CompetitorReport struct {
	Domain      string              `json:"domain"`
	Competitors []CompetitorProfile `json:"competitors"`
}
