package dialogue

import "strings"

type faq struct {
	match func(q string) bool
	reply string
}

func anyOf(needles ...string) func(string) bool {
	return func(q string) bool {
		for _, n := range needles {
			if strings.Contains(q, n) {
				return true
			}
		}
		return false
	}
}

// Order matters: the first matching entry answers.
var knowledgeBase = []faq{
	{anyOf("what is insurance"), "Insurance is protection against financial loss from accidents or risks."},
	{anyOf("why do i need insurance"), "It is a legal requirement in most places and provides financial protection."},
	{anyOf("types of insurance"), "Common types include auto, health, life, and property insurance."},
	{anyOf("what is underwriting"), "Underwriting is how insurers assess your risk to decide your premium."},
	{anyOf("why do you need my", "why are you asking"), "Each detail helps me calculate a fair, accurate quote for you."},
	{anyOf("what is a premium"), "A premium is the amount you pay (monthly/annually) to stay insured."},
	{anyOf("what is coverage"), "Coverage is the protection your policy provides (e.g., accident damage, theft)."},
	{anyOf("what is an excess", "what is a deductible"), "Excess (deductible) is what you pay out-of-pocket before insurance kicks in."},
	{anyOf("why is my quote", "why did my quote"), "Quotes can be higher due to age, claims history, location, or car type."},
	{anyOf("file a claim"), "Contact your insurer immediately and provide accident details, photos, and a police report."},
	{anyOf("what info do i need for a claim", "what information for a claim"), "You'll need your policy number, incident details, and documents like a police report."},
	{anyOf("how long does a claim", "claim take"), "Claim duration depends on complexity, but insurers aim to be fast."},
	{anyOf("kenya", "third-party", "comprehensive"), "In Kenya, motor insurance is mandatory. Third-party is the minimum legal cover; comprehensive covers theft, fire, and own damage."},
	{anyOf("lower my premium", "reduce my premium"), "Safe driving, fewer claims, and choosing a smaller/safer car can help lower your premium."},
	{anyOf("full coverage", "do i need comprehensive"), "If your car is financed or valuable, comprehensive cover is recommended."},
	{anyOf("privacy", "private"), "I keep your info private and only use it to calculate your quote."},
	{func(q string) bool { return strings.Contains(q, "email") && strings.Contains(q, "pdf") },
		"I can email you a PDF summary of your quote if you'd like."},
	{func(q string) bool {
		return strings.Contains(q, "save") && (strings.Contains(q, "history") || strings.Contains(q, "quote"))
	}, "Would you like me to save this in your quote history so you can compare later?"},
}

// Lookup returns the canned reply for text, if any trigger matches.
func Lookup(text string) (string, bool) {
	q := strings.ToLower(text)
	for _, entry := range knowledgeBase {
		if entry.match(q) {
			return entry.reply, true
		}
	}
	return "", false
}
