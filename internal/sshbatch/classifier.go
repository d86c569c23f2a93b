package sshbatch

import "strings"

// phrase lists are matched by substring, case-insensitively, against the
// failure message. English and Russian phrasings are both matched —
// some of the libraries in this ecosystem surface localized system
// error strings (e.g. glibc's ru_RU locale) that a purely English
// substring list would miss.
var (
	validationPhrases = []string{
		"command rejected", "command validation", "not in whitelist",
		"not in allowed", "safety check failed", "запрещённая команда",
	}

	keyMaterialPhrases = []string{
		"no such file or directory", "key missing", "unreadable",
		"parse private key", "invalid format", "decrypt", "incorrect passphrase",
		"ssh: cannot decode", "ssh: not an encrypted key",
		"неверный пароль ключа", "ключ не найден",
	}

	authDeniedPhrases = []string{
		"unable to authenticate", "permission denied", "no supported methods remain",
		"authentication failed", "отказано в доступе",
	}

	networkTransientPhrases = []string{
		"connection refused", "connection reset", "no route to host",
		"no such host", "lookup", "network is unreachable", "dns",
		"соединение разорвано", "нет маршрута",
	}

	timeoutPhrases = []string{
		"timeout", "timed out", "i/o timeout", "deadline exceeded",
		"таймаут",
	}

	cancelledPhrases = []string{
		"context cancelled", "context canceled", "cancelled", "canceled",
		"отменено",
	}
)

func containsAny(msg string, phrases []string) bool {
	low := strings.ToLower(msg)
	for _, p := range phrases {
		if strings.Contains(low, p) {
			return true
		}
	}
	return false
}

// Classify maps a failure to an ErrorDescriptor, applying the phrase
// rules in order — first match wins. Classify is pure: identical
// input always produces identical output.
func Classify(err error) *ErrorDescriptor {
	if err == nil {
		return nil
	}
	if ed, ok := err.(*ErrorDescriptor); ok {
		return ed
	}

	msg := err.Error()

	switch {
	case containsAny(msg, validationPhrases):
		return &ErrorDescriptor{Kind: KindCommandValidation, Message: msg, Retryable: false}
	case containsAny(msg, keyMaterialPhrases):
		return &ErrorDescriptor{Kind: KindKeyMaterial, Message: msg, Retryable: false}
	case containsAny(msg, authDeniedPhrases):
		return &ErrorDescriptor{Kind: KindAuthDenied, Message: msg, Retryable: false}
	case containsAny(msg, networkTransientPhrases):
		return &ErrorDescriptor{Kind: KindNetworkTransient, Message: msg, Retryable: true}
	case containsAny(msg, timeoutPhrases):
		return &ErrorDescriptor{Kind: KindTimeout, Message: msg, Retryable: true}
	case containsAny(msg, cancelledPhrases):
		return &ErrorDescriptor{Kind: KindCancelled, Message: msg, Retryable: false}
	default:
		// Conservative default: an uncategorized failure might be transient.
		return &ErrorDescriptor{Kind: KindUnknown, Message: msg, Retryable: true}
	}
}
