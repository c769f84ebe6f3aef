package mimir

import (
	"time"
)

// Settings is an index's search configuration. Nil slices mean "leave
// unchanged" on update and "engine default" on read, so a partial update
// only touches the fields it names.
type Settings struct {
	// RankingRules order the engine's relevancy criteria, e.g.
	// ["words", "typo", "proximity", "attribute", "sort", "exactness"].
	RankingRules []string `json:"rankingRules,omitempty"`

	// SearchableAttributes lists the fields examined by search, in
	// priority order. ["*"] means all fields.
	SearchableAttributes []string `json:"searchableAttributes,omitempty"`

	// FilterableAttributes lists the fields usable in Query.Filter.
	FilterableAttributes []string `json:"filterableAttributes,omitempty"`

	// SortableAttributes lists the fields usable in Query.Sort.
	SortableAttributes []string `json:"sortableAttributes,omitempty"`

	// StopWords are ignored by search.
	StopWords []string `json:"stopWords,omitempty"`

	// Synonyms maps a word to the words treated as equivalent to it.
	Synonyms map[string][]string `json:"synonyms,omitempty"`

	// TypoTolerance tunes typo matching.
	TypoTolerance *TypoTolerance `json:"typoTolerance,omitempty"`
}

// TypoTolerance configures the engine's typo matching.
type TypoTolerance struct {
	Enabled             bool              `json:"enabled"`
	MinWordSizeForTypos *MinWordSizeTypos `json:"minWordSizeForTypos,omitempty"`
	DisableOnWords      []string          `json:"disableOnWords,omitempty"`
	DisableOnAttributes []string          `json:"disableOnAttributes,omitempty"`
}

// MinWordSizeTypos sets the minimum word lengths that allow one and two
// typos respectively.
type MinWordSizeTypos struct {
	OneTypo  int `json:"oneTypo,omitempty"`
	TwoTypos int `json:"twoTypos,omitempty"`
}

// IndexInfo describes one index inside an instance.
type IndexInfo struct {
	// UID is the index name, unique within the instance.
	UID string `json:"uid"`
	// PrimaryKey is empty until established by an explicit create or the
	// first document insertion; immutable afterwards.
	PrimaryKey string    `json:"primaryKey"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// indexInfoEnvelope tolerates the engine's nullable primaryKey.
type indexInfoEnvelope struct {
	UID        string    `json:"uid"`
	PrimaryKey *string   `json:"primaryKey"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (env indexInfoEnvelope) toInfo() IndexInfo {
	info := IndexInfo{UID: env.UID, CreatedAt: env.CreatedAt, UpdatedAt: env.UpdatedAt}
	if env.PrimaryKey != nil {
		info.PrimaryKey = *env.PrimaryKey
	}
	return info
}
