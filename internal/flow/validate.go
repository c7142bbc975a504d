package flow

import (
	"fmt"
	"strconv"
	"strings"
)

type verdict int

const (
	verdictOK verdict = iota
	verdictInvalid
	verdictUnderage
)

// validate checks raw input against a capture node's rule and returns
// the canonical stored value.
func validate(node *Node, raw string) (string, verdict) {
	switch node.Rule {
	case "age":
		return validateAge(node, raw)
	case "amount":
		return validateAmount(node, raw)
	case "child_age":
		return validateChildAge(raw)
	default:
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return "", verdictInvalid
		}
		return trimmed, verdictOK
	}
}

func validateAge(node *Node, raw string) (string, verdict) {
	age, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || age <= 0 {
		return "", verdictInvalid
	}
	if age < 18 {
		return "", verdictUnderage
	}
	max := 70
	if node.Max > 0 {
		max = int(node.Max)
	}
	if age > max {
		return "", verdictInvalid
	}
	return strconv.Itoa(age), verdictOK
}

func validateAmount(node *Node, raw string) (string, verdict) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(strings.ToUpper(cleaned), "RM")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || amount <= 0 {
		return "", verdictInvalid
	}
	if node.Min > 0 && amount < node.Min {
		return "", verdictInvalid
	}
	return strconv.FormatFloat(amount, 'f', -1, 64), verdictOK
}

func validateChildAge(raw string) (string, verdict) {
	age, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || age < 1 || age > 17 {
		return "", verdictInvalid
	}
	return strconv.Itoa(age), verdictOK
}

// ruleMessage is the re-prompt error text for a failed capture.
func ruleMessage(node *Node) string {
	switch node.Rule {
	case "age":
		max := 70
		if node.Max > 0 {
			max = int(node.Max)
		}
		return fmt.Sprintf("Please enter a valid age between 18 and %d.", max)
	case "amount":
		if node.Min > 0 {
			return fmt.Sprintf("The minimum amount is %s. Please enter a higher amount:", FormatRM(node.Min))
		}
		return "Please enter a valid amount (e.g., 100000 or 100,000):"
	case "child_age":
		return "Please enter your child's age between 1 and 17."
	default:
		return "Sorry, I didn't catch that. Please try again."
	}
}
