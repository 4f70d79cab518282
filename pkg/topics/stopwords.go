package topics

// Function words that carry no topical signal. Covers the CJK particles and
// pronouns the tokenizer commonly emits plus a small English set.
var stopwords = map[string]struct{}{
	"的": {}, "了": {}, "在": {}, "是": {}, "和": {}, "与": {}, "或": {},
	"这": {}, "那": {}, "我": {}, "你": {}, "他": {}, "她": {}, "它": {},
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "is": {}, "are": {},
	"was": {}, "to": {}, "of": {}, "in": {}, "on": {}, "it": {}, "this": {},
	"that": {}, "i": {}, "you": {}, "he": {}, "she": {}, "we": {}, "they": {},
}

func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}
