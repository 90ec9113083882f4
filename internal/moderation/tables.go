package moderation

// blockedWord pairs a block-listed word with the containing-words that make
// it acceptable. Whitelist entries are matched as whole words against the
// normalized text, which is what lets "ass" survive inside "class".
type blockedWord struct {
	word      string
	whitelist []string
}

// defaultBlocklist is the curated word table. Matching is leetspeak-tolerant
// (see leetClasses), so entries cover their obvious substitutions too.
//
// Category labels for protected groups are deliberately not listed: they are
// ordinary review vocabulary ("LGBTQ-friendly venue") and flagging them
// produces false positives, not safety.
var defaultBlocklist = []blockedWord{
	{word: "fuck"},
	{word: "shit", whitelist: []string{"shiitake"}},
	{word: "bitch"},
	{word: "bastard"},
	{word: "cunt"},
	{word: "whore"},
	{word: "slut"},
	{word: "dick", whitelist: []string{"dickens", "benedick"}},
	{word: "cock", whitelist: []string{"cocktail", "cocktails", "peacock", "hancock"}},
	{word: "piss"},
	{word: "crap", whitelist: []string{"scrap", "scraps", "scrape", "scraped"}},
	{word: "damn"},
	{word: "ass", whitelist: []string{
		"class", "classy", "pass", "passed", "passion", "glass", "glasses",
		"grass", "brass", "bass", "mass", "massage", "massive", "assistant",
		"assistance", "assume", "asset", "assets", "compass", "embassy",
		"casserole", "ambassador",
	}},
	{word: "hell", whitelist: []string{"hello", "shell", "shellfish", "shelter", "seashell", "paella"}},
	{word: "kill", whitelist: []string{"skill", "skilled", "skillet", "skills"}},
	{word: "die", whitelist: []string{"diet", "dietary", "diesel", "indie", "died"}},
	{word: "rape", whitelist: []string{"grape", "grapes", "grapefruit", "drape", "drapes", "scrape", "scraped"}},
	{word: "nazi"},
	{word: "terrorist"},
	{word: "high", whitelist: []string{"highway", "highlight", "highlights", "thigh", "thighs", "night"}},
}

// defaultPhrases are multi-word strings checked as exact substrings of the
// normalized text. Hate speech, threats, and solicitation that individual
// word matching misses.
var defaultPhrases = []string{
	"kill yourself",
	"kill your self",
	"go kill yourself",
	"i will kill you",
	"i will find you",
	"you should die",
	"i hate all",
	"death to",
	"drugs for sale",
	"buy drugs",
	"sell you drugs",
	"online casino",
	"casino bonus",
	"easy money fast",
	"make money fast",
	"send nudes",
	"escort service",
	"escort services",
	"hot singles",
}

// leetClasses maps each letter to the character class used when building
// word patterns, so "fuck" also matches "fu(k" and "f*ck"-style spellings
// that survive normalization as substitutions.
var leetClasses = map[rune]string{
	'a': "[a@4]",
	'b': "[b8]",
	'e': "[e3]",
	'g': "[g9]",
	'i': "[i1!]",
	'l': "[l1]",
	'o': "[o0]",
	's': "[s$5]",
	't': "[t7]",
	'u': "[uv]",
}
