package host

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

type AuthAPIConfig struct {
	// AuthorizedCompanies lists company ids that receive a positive verdict.
	AuthorizedCompanies []string
	// PartnerCode, when set, must match the pc query parameter.
	PartnerCode     string
	RateLimitMax    int
	RateLimitWindow time.Duration
	Clock           clock.Clock
	Logger          logrus.FieldLogger
}

// AuthAPI is a local stand-in for the remote verdict service.
type AuthAPI struct {
	cfg         AuthAPIConfig
	companies   map[string]struct{}
	rateLimiter *rateLimiter
	clock       clock.Clock
	logger      logrus.FieldLogger
}

func NewAuthAPI(cfg AuthAPIConfig) *AuthAPI {
	companies := make(map[string]struct{}, len(cfg.AuthorizedCompanies))
	for _, id := range cfg.AuthorizedCompanies {
		if id = strings.TrimSpace(id); id != "" {
			companies[id] = struct{}{}
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthAPI{
		cfg:         cfg,
		companies:   companies,
		rateLimiter: newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		clock:       cfg.Clock,
		logger:      logger.WithField("component", "auth-api"),
	}
}

func (a *AuthAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path != "/v1/widget/auth" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported", correlationID)
		return
	}

	companyID := strings.TrimSpace(r.URL.Query().Get("cid"))
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "cid is required", correlationID)
		return
	}
	if a.cfg.PartnerCode != "" && r.URL.Query().Get("pc") != a.cfg.PartnerCode {
		writeError(w, http.StatusForbidden, "forbidden", "unknown partner code", correlationID)
		return
	}
	if a.rateLimiter != nil && !a.rateLimiter.allow(companyID, a.clock.Now().UTC()) {
		retryAfter := int(math.Ceil(a.rateLimiter.window.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	_, authorized := a.companies[companyID]
	a.logger.WithFields(logrus.Fields{"companyId": companyID, "authorized": authorized}).Debug("verdict served")
	writeJSON(w, http.StatusOK, map[string]bool{"authorized": authorized})
}
