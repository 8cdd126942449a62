package topic

// Category names of the built-in catalog.
const (
	CategoryTechnology = "technology"
	CategoryPolitics   = "politics"
	CategorySociety    = "society"
	CategoryEducation  = "education"
	CategoryEconomics  = "economics"
	CategoryScience    = "science"
	CategoryHealth     = "health"
	CategoryCulture    = "culture"
)

var defaultTopics = map[string][]string{
	CategoryTechnology: {
		"Artificial intelligence will do more harm than good for humanity",
		"Social media should be regulated like tobacco products",
		"Cryptocurrency is the future of money",
		"Self-driving cars will make roads safer",
		"Technology makes us more lonely",
		"Robots will replace most human jobs within 20 years",
		"Big Tech companies should be broken up",
		"Smartphones should be banned in schools",
	},
	CategoryPolitics: {
		"Voting should be mandatory for all citizens",
		"The voting age should be lowered to 16",
		"Politicians should have strict term limits",
		"Lobbying is just legalized corruption",
		"The death penalty should be abolished worldwide",
		"National borders should be abolished",
	},
	CategorySociety: {
		"Cancel culture has gone too far",
		"Zoos are just animal prisons",
		"Being an influencer is a real job",
		"Tipping culture needs to end",
		"Beauty pageants should be banned",
		"Animals should have legal rights",
	},
	CategoryEducation: {
		"College education is overrated and overpriced",
		"Homework should be banned in schools",
		"Standardized testing is harmful to students",
		"Everyone should be required to learn coding",
		"Remote work is better than office work",
		"The 4-day work week should be standard",
		"Unpaid internships should be illegal",
	},
	CategoryEconomics: {
		"Universal basic income is necessary for the future",
		"Inheritance should be heavily taxed",
		"Raising the minimum wage increases unemployment",
		"Housing is a fundamental human right",
		"The stock market is just legalized gambling",
		"Money can buy happiness",
	},
	CategoryScience: {
		"Nuclear energy is essential for fighting climate change",
		"Space exploration is a waste of resources",
		"Colonizing Mars is humanity's destiny",
		"GMO foods are safe and necessary",
		"Recycling is mostly pointless theater",
		"Animal testing is never justified",
	},
	CategoryHealth: {
		"Healthcare is a human right",
		"Alternative medicine is mostly quackery",
		"The war on drugs was a complete failure",
		"Sugar should be taxed like alcohol",
		"Psychedelics should be legal for therapeutic use",
	},
	CategoryCulture: {
		"Books are better than movies",
		"Modern art is pretentious",
		"Streaming services are killing cinema",
		"Professional athletes are overpaid",
		"Celebrities should stay out of politics",
		"Video games are an art form",
	},
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	var topics []Topic
	for _, category := range []string{
		CategoryTechnology, CategoryPolitics, CategorySociety, CategoryEducation,
		CategoryEconomics, CategoryScience, CategoryHealth, CategoryCulture,
	} {
		for _, text := range defaultTopics[category] {
			topics = append(topics, Topic{Text: text, Category: category})
		}
	}
	return NewCatalog(topics)
}
