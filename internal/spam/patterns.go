package spam

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s]+|www\.[^\s]+`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	moneyPattern = regexp.MustCompile(`(?i)\b(free|win|winner|prize|cash|crypto|bitcoin)\b|\$\d+|\d+\s*(dollars?|usd|euro)`)
	scamPattern  = regexp.MustCompile(`(?i)(click here|buy now|limited time|act now|guaranteed|risk free|no obligation|dm me)`)
)

// Kept short and lower case; matching is substring based.
var profanityList = []string{
	"fuck", "shit", "bitch", "asshole", "cunt",
}

// DetectPattern returns the first suspicious pattern found in content.
func DetectPattern(content string) (bool, string) {
	switch {
	case hasExcessiveRepeatedChars(content, 5):
		return true, "excessive_repeated_chars"
	case scamPattern.MatchString(content):
		return true, "suspicious_promotional_content"
	case moneyPattern.MatchString(content):
		return true, "suspicious_money_mention"
	case urlPattern.MatchString(content):
		return true, "contains_url"
	case emailPattern.MatchString(content):
		return true, "contains_email"
	case phonePattern.MatchString(content):
		return true, "contains_phone"
	case hasExcessiveCaps(content):
		return true, "excessive_caps"
	}
	return false, ""
}

func hasExcessiveRepeatedChars(s string, max int) bool {
	count := 1
	lastChar := rune(-1)

	for _, char := range s {
		if char == lastChar {
			count++
			if count > max {
				return true
			}
		} else {
			count = 1
			lastChar = char
		}
	}

	return false
}

// hasExcessiveCaps flags text that is more than 70% upper case letters.
// Texts under 20 bytes are never flagged.
func hasExcessiveCaps(s string) bool {
	if len(s) < 20 {
		return false
	}

	capsCount := 0
	letterCount := 0
	for _, char := range s {
		if unicode.IsLetter(char) {
			letterCount++
			if unicode.IsUpper(char) {
				capsCount++
			}
		}
	}

	if letterCount == 0 {
		return false
	}
	return float64(capsCount)/float64(letterCount) > 0.7
}

// SanitizeReport strips contact details from report text before it is shown
// to other users.
func SanitizeReport(content string) string {
	content = urlPattern.ReplaceAllString(content, "[URL removed]")
	content = emailPattern.ReplaceAllString(content, "[Email removed]")
	content = phonePattern.ReplaceAllString(content, "[Phone removed]")
	return strings.TrimSpace(content)
}

// CalculateSpamScore returns a spam score (0-100). Phone numbers and
// emails score low since a report may legitimately mention them.
func CalculateSpamScore(content string) int {
	score := 0

	if hasExcessiveRepeatedChars(content, 5) {
		score += 20
	}
	if urlPattern.MatchString(content) {
		score += 20
	}
	if emailPattern.MatchString(content) {
		score += 10
	}
	if phonePattern.MatchString(content) {
		score += 10
	}
	if moneyPattern.MatchString(content) {
		score += 25
	}
	if scamPattern.MatchString(content) {
		score += 40
	}
	if hasExcessiveCaps(content) {
		score += 15
	}

	if score > 100 {
		score = 100
	}
	return score
}
