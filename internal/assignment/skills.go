package assignment

// categorySkills lists the canonical skills each category needs. General has
// no canonical skills, so only keyword overlap counts for it.
var categorySkills = map[Category][]string{
	CategoryFrontend:    {"javascript", "react", "vue", "angular", "html", "css", "typescript", "ui/ux"},
	CategoryBackend:     {"python", "java", "node.js", "go", "rust", "c#", "ruby", "php"},
	CategoryDatabase:    {"sql", "postgresql", "mysql", "mongodb", "redis", "elasticsearch"},
	CategoryAPI:         {"rest", "graphql", "api design", "swagger", "postman", "microservices"},
	CategoryMobile:      {"ios", "android", "react native", "flutter", "swift", "kotlin"},
	CategorySecurity:    {"security", "authentication", "authorization", "encryption", "owasp"},
	CategoryPerformance: {"optimization", "profiling", "caching", "load testing", "monitoring"},
	CategoryGeneral:     {},
}

// RequiredSkills returns the canonical skills for c. Unknown categories get
// the General set.
func RequiredSkills(c Category) []string {
	skills, ok := categorySkills[c]
	if !ok {
		skills = categorySkills[CategoryGeneral]
	}
	out := make([]string, len(skills))
	copy(out, skills)
	return out
}

var experienceBonus = map[ExperienceLevel]float64{
	Junior:    0.0,
	Mid:       0.05,
	Senior:    0.1,
	Lead:      0.15,
	Principal: 0.2,
}

// ExperienceBonus is the skill bonus for level, scaled up for severe bugs
func ExperienceBonus(level ExperienceLevel, severity Severity) float64 {
	base := experienceBonus[level]
	switch severity {
	case SeverityCritical:
		return base * 2.0
	case SeverityHigh:
		return base * 1.5
	default:
		return base
	}
}
