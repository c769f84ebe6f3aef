package enginetest

// settingsState holds one index's search configuration with engine
// defaults filled in.
type settingsState struct {
	RankingRules         []string
	SearchableAttributes []string
	FilterableAttributes []string
	SortableAttributes   []string
	StopWords            []string
	Synonyms             map[string][]string
	TypoEnabled          bool
	OneTypo              int
	TwoTypos             int
	DisableOnWords       []string
	DisableOnAttributes  []string
}

func defaultSettings() settingsState {
	return settingsState{
		RankingRules:         []string{"words", "typo", "proximity", "attribute", "sort", "exactness"},
		SearchableAttributes: []string{"*"},
		TypoEnabled:          true,
		OneTypo:              5,
		TwoTypos:             8,
	}
}

// wireSettings is the settings payload shape. Pointers distinguish "leave
// unchanged" from explicit values on PATCH.
type wireSettings struct {
	RankingRules         *[]string            `json:"rankingRules,omitempty"`
	SearchableAttributes *[]string            `json:"searchableAttributes,omitempty"`
	FilterableAttributes *[]string            `json:"filterableAttributes,omitempty"`
	SortableAttributes   *[]string            `json:"sortableAttributes,omitempty"`
	StopWords            *[]string            `json:"stopWords,omitempty"`
	Synonyms             *map[string][]string `json:"synonyms,omitempty"`
	TypoTolerance        *wireTypoTolerance   `json:"typoTolerance,omitempty"`
}

type wireTypoTolerance struct {
	Enabled             bool              `json:"enabled"`
	MinWordSizeForTypos *wireMinWordSizes `json:"minWordSizeForTypos,omitempty"`
	DisableOnWords      []string          `json:"disableOnWords,omitempty"`
	DisableOnAttributes []string          `json:"disableOnAttributes,omitempty"`
}

type wireMinWordSizes struct {
	OneTypo  int `json:"oneTypo,omitempty"`
	TwoTypos int `json:"twoTypos,omitempty"`
}

func (s settingsState) toWire() wireSettings {
	rr := append([]string(nil), s.RankingRules...)
	sa := append([]string(nil), s.SearchableAttributes...)
	fa := emptyIfNil(s.FilterableAttributes)
	so := emptyIfNil(s.SortableAttributes)
	sw := emptyIfNil(s.StopWords)
	syn := s.Synonyms
	if syn == nil {
		syn = map[string][]string{}
	}
	return wireSettings{
		RankingRules:         &rr,
		SearchableAttributes: &sa,
		FilterableAttributes: &fa,
		SortableAttributes:   &so,
		StopWords:            &sw,
		Synonyms:             &syn,
		TypoTolerance: &wireTypoTolerance{
			Enabled: s.TypoEnabled,
			MinWordSizeForTypos: &wireMinWordSizes{
				OneTypo:  s.OneTypo,
				TwoTypos: s.TwoTypos,
			},
			DisableOnWords:      emptyIfNil(s.DisableOnWords),
			DisableOnAttributes: emptyIfNil(s.DisableOnAttributes),
		},
	}
}

// merge applies a partial settings update over the current state.
func (s *settingsState) merge(patch wireSettings) {
	if patch.RankingRules != nil {
		s.RankingRules = *patch.RankingRules
	}
	if patch.SearchableAttributes != nil {
		s.SearchableAttributes = *patch.SearchableAttributes
	}
	if patch.FilterableAttributes != nil {
		s.FilterableAttributes = *patch.FilterableAttributes
	}
	if patch.SortableAttributes != nil {
		s.SortableAttributes = *patch.SortableAttributes
	}
	if patch.StopWords != nil {
		s.StopWords = *patch.StopWords
	}
	if patch.Synonyms != nil {
		s.Synonyms = *patch.Synonyms
	}
	if patch.TypoTolerance != nil {
		s.TypoEnabled = patch.TypoTolerance.Enabled
		if mws := patch.TypoTolerance.MinWordSizeForTypos; mws != nil {
			if mws.OneTypo > 0 {
				s.OneTypo = mws.OneTypo
			}
			if mws.TwoTypos > 0 {
				s.TwoTypos = mws.TwoTypos
			}
		}
		if patch.TypoTolerance.DisableOnWords != nil {
			s.DisableOnWords = patch.TypoTolerance.DisableOnWords
		}
		if patch.TypoTolerance.DisableOnAttributes != nil {
			s.DisableOnAttributes = patch.TypoTolerance.DisableOnAttributes
		}
	}
}

func (s settingsState) filterable(field string) bool {
	for _, f := range s.FilterableAttributes {
		if f == field || f == "*" {
			return true
		}
	}
	return false
}

func (s settingsState) sortable(field string) bool {
	for _, f := range s.SortableAttributes {
		if f == field || f == "*" {
			return true
		}
	}
	return false
}

func (s settingsState) stopWord(token string) bool {
	for _, w := range s.StopWords {
		if w == token {
			return true
		}
	}
	return false
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
