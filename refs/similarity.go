package refs

// ForSimilarity returns the conversation's unique reference values with
// user mentions excluded: mentioning the same person is not topical
// evidence.
func ForSimilarity(cr *ConversationReferences) map[string]struct{} {
	mentions := make(map[string]struct{})
	for _, ref := range cr.References {
		if ref.Type == TypeUserMention {
			mentions[ref.Value] = struct{}{}
		}
	}
	out := make(map[string]struct{}, len(cr.UniqueValues))
	for v := range cr.UniqueValues {
		if _, isMention := mentions[v]; isMention {
			// A value can be introduced by both a mention and a
			// non-mention extractor; only drop pure mentions.
			if !hasNonMentionSource(cr, v) {
				continue
			}
		}
		out[v] = struct{}{}
	}
	return out
}

func hasNonMentionSource(cr *ConversationReferences, value string) bool {
	for _, ref := range cr.References {
		if ref.Value == value && ref.Type != TypeUserMention {
			return true
		}
	}
	return false
}

// Jaccard computes |A∩B| / |A∪B| over string sets. Both sets empty
// yields 0, not 1: no shared evidence is not similarity.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for v := range a {
		if _, ok := b[v]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// JaccardStrings is Jaccard over plain string slices.
func JaccardStrings(a, b []string) float64 {
	return Jaccard(toSet(a), toSet(b))
}

func toSet(values []string) map[string]struct{} {
	s := make(map[string]struct{}, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}
