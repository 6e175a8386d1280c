package model

import (
	"fmt"
	"strings"
)

// ProviderType identifies an external productivity tool the service can
// connect to and fetch activity from.
type ProviderType string

const (
	ProviderGitHub         ProviderType = "github"
	ProviderJira           ProviderType = "jira"
	ProviderConfluence     ProviderType = "confluence"
	ProviderFigma          ProviderType = "figma"
	ProviderGoogleCalendar ProviderType = "google_calendar"
	ProviderMicrosoftTeams ProviderType = "microsoft_teams"
	ProviderSlack          ProviderType = "slack"
)

// ProviderCategory is the kind of tool a provider is.
type ProviderCategory string

const (
	CategoryCodeHost  ProviderCategory = "codehost"
	CategoryTracker   ProviderCategory = "tracker"
	CategoryWiki      ProviderCategory = "wiki"
	CategoryDesign    ProviderCategory = "design"
	CategoryCalendar  ProviderCategory = "calendar"
	CategoryChat      ProviderCategory = "chat"
	CategoryMessaging ProviderCategory = "messaging"
)

var providerCategories = map[ProviderType]ProviderCategory{
	ProviderGitHub:         CategoryCodeHost,
	ProviderJira:           CategoryTracker,
	ProviderConfluence:     CategoryWiki,
	ProviderFigma:          CategoryDesign,
	ProviderGoogleCalendar: CategoryCalendar,
	ProviderMicrosoftTeams: CategoryChat,
	ProviderSlack:          CategoryMessaging,
}

// AllProviders returns every supported provider in a stable order.
func AllProviders() []ProviderType {
	return []ProviderType{
		ProviderGitHub,
		ProviderJira,
		ProviderConfluence,
		ProviderFigma,
		ProviderGoogleCalendar,
		ProviderMicrosoftTeams,
		ProviderSlack,
	}
}

// Category returns the tool category of the provider, or "" when unknown.
func (p ProviderType) Category() ProviderCategory {
	return providerCategories[p]
}

// Valid reports whether p is one of the supported providers.
func (p ProviderType) Valid() bool {
	_, ok := providerCategories[p]
	return ok
}

// ParseProviderType resolves a provider name or a category name
// ("tracker", "codehost", ...) to a ProviderType. Matching is case-insensitive.
func ParseProviderType(s string) (ProviderType, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	if p := ProviderType(needle); p.Valid() {
		return p, nil
	}
	for p, c := range providerCategories {
		if string(c) == needle {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}
