package httpapi

import (
	"fmt"
	"net/url"
	"strings"

	"computemesh/internal/domain"
)

// ExtractModelID turns a Hugging Face URL or an org/repo[/.../file.gguf]
// reference into the provider model id "org:repo[:file.gguf]".
func ExtractModelID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalidModel("model is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", invalidModel(err.Error())
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		if strings.HasSuffix(parsed.Host, "huggingface.co") {
			return "", invalidModel("huggingface URL path must be /org/repo/...")
		}
		return "", invalidModel("expecting org/repo[/.../filename.gguf] or a huggingface.co URL")
	}

	org, repo := parts[0], parts[1]
	for i := len(parts) - 1; i >= 2; i-- {
		if strings.HasSuffix(strings.ToLower(parts[i]), ".gguf") {
			return org + ":" + repo + ":" + parts[i], nil
		}
	}
	return org + ":" + repo, nil
}

func invalidModel(detail string) error {
	return fmt.Errorf("%w: invalid or unsupported model URL/ID format: %s", domain.ErrInvalidRequest, detail)
}
