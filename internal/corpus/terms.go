package corpus

// DefaultDiscoveryTerms are title-search seeds, not mood keywords. The
// catalog searches by title, so these are words common in horror titles.
var DefaultDiscoveryTerms = []string{
	// common title words
	"horror", "dead", "evil", "night", "blood", "dark",
	"ghost", "devil", "hell", "curse", "haunted", "terror",
	"scream", "nightmare", "death", "kill", "fear",
	"fright", "tomb", "grave", "shadow",
	// creatures
	"zombie", "vampire", "demon", "witch", "alien", "werewolf",
	"creature", "monster", "dracula", "frankenstein", "mummy",
	// franchises and well-known titles
	"halloween", "saw", "conjuring", "exorcist", "friday 13",
	"omen", "purge", "insidious", "paranormal", "sinister",
	"hereditary", "babadook", "poltergeist", "candyman",
	"hellraiser", "chucky", "jaws", "cloverfield", "psycho",
	"ring", "grudge", "it", "us",
	// subgenres
	"slasher", "possession", "haunting", "survival",
	"massacre", "cannibal", "asylum", "cabin", "ritual",
	"annihilation", "midsommar", "descent",
}
