// Package campaigns holds the static Google Ads lookup tables used to check a
// campaign plan locally before anything is sent to the Ads API.
package campaigns

import (
	"math"
	"slices"
)

// ChannelType is the advertising channel of a campaign.
type ChannelType string

const (
	ChannelSearch         ChannelType = "SEARCH"
	ChannelDisplay        ChannelType = "DISPLAY"
	ChannelShopping       ChannelType = "SHOPPING"
	ChannelVideo          ChannelType = "VIDEO"
	ChannelPerformanceMax ChannelType = "PERFORMANCE_MAX"
	ChannelDemandGen      ChannelType = "DEMAND_GEN"
)

// BiddingStrategy is a campaign bidding strategy type.
type BiddingStrategy string

const (
	BidManualCPC               BiddingStrategy = "MANUAL_CPC"
	BidManualCPM               BiddingStrategy = "MANUAL_CPM"
	BidMaximizeClicks          BiddingStrategy = "MAXIMIZE_CLICKS"
	BidMaximizeConversions     BiddingStrategy = "MAXIMIZE_CONVERSIONS"
	BidMaximizeConversionValue BiddingStrategy = "MAXIMIZE_CONVERSION_VALUE"
	BidTargetCPA               BiddingStrategy = "TARGET_CPA"
	BidTargetROAS              BiddingStrategy = "TARGET_ROAS"
	BidTargetImpressionShare   BiddingStrategy = "TARGET_IMPRESSION_SHARE"
	BidTargetCPM               BiddingStrategy = "TARGET_CPM"
)

// MatchType is a keyword match type.
type MatchType string

const (
	MatchExact  MatchType = "EXACT"
	MatchPhrase MatchType = "PHRASE"
	MatchBroad  MatchType = "BROAD"
)

// Keyword limits enforced by the Ads API.
const (
	MaxKeywordLength = 80
	MaxKeywordWords  = 10
	MaxNameLength    = 255
)

// Channels lists every supported channel type.
var Channels = []ChannelType{
	ChannelSearch, ChannelDisplay, ChannelShopping, ChannelVideo, ChannelPerformanceMax, ChannelDemandGen,
}

// MatchTypes lists every keyword match type.
var MatchTypes = []MatchType{MatchExact, MatchPhrase, MatchBroad}

// strategyChannels maps each bidding strategy to the channels that accept it.
var strategyChannels = map[BiddingStrategy][]ChannelType{
	BidManualCPC:               {ChannelSearch, ChannelDisplay, ChannelShopping},
	BidManualCPM:               {ChannelDisplay, ChannelVideo},
	BidMaximizeClicks:          {ChannelSearch, ChannelDisplay, ChannelShopping},
	BidMaximizeConversions:     {ChannelSearch, ChannelDisplay, ChannelVideo, ChannelPerformanceMax, ChannelDemandGen},
	BidMaximizeConversionValue: {ChannelSearch, ChannelDisplay, ChannelShopping, ChannelPerformanceMax, ChannelDemandGen},
	BidTargetCPA:               {ChannelSearch, ChannelDisplay, ChannelVideo, ChannelPerformanceMax, ChannelDemandGen},
	BidTargetROAS:              {ChannelSearch, ChannelDisplay, ChannelShopping, ChannelPerformanceMax, ChannelDemandGen},
	BidTargetImpressionShare:   {ChannelSearch},
	BidTargetCPM:               {ChannelVideo},
}

// keywordChannels are the channels whose ad groups are keyword targeted.
var keywordChannels = []ChannelType{ChannelSearch, ChannelDisplay}

// Valid reports whether c is a known channel type.
func (c ChannelType) Valid() bool {
	return slices.Contains(Channels, c)
}

// UsesKeywords reports whether campaigns on c carry keyword criteria.
func (c ChannelType) UsesKeywords() bool {
	return slices.Contains(keywordChannels, c)
}

// Valid reports whether s is a known bidding strategy.
func (s BiddingStrategy) Valid() bool {
	_, ok := strategyChannels[s]
	return ok
}

// SupportsChannel reports whether s may be used on channel c.
func (s BiddingStrategy) SupportsChannel(c ChannelType) bool {
	return slices.Contains(strategyChannels[s], c)
}

// ChannelsFor returns the channels accepting s, in table order.
func ChannelsFor(s BiddingStrategy) []ChannelType {
	return slices.Clone(strategyChannels[s])
}

// Valid reports whether m is a known match type.
func (m MatchType) Valid() bool {
	return slices.Contains(MatchTypes, m)
}

// ToMicros converts a currency amount to Ads API micros, rounded to the
// nearest micro.
func ToMicros(amount float64) int64 {
	return int64(math.Round(amount * 1_000_000))
}

// FromMicros converts Ads API micros to a currency amount.
func FromMicros(micros int64) float64 {
	return float64(micros) / 1_000_000
}
