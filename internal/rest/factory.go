package rest

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

// Config configures a resource factory.
type Config struct {
	// ServerURL is the tracker root, e.g. "https://tuleap.example.com".
	ServerURL string
	// APIVersion is an optional path segment after /api, e.g. "v1".
	APIVersion string
	// PageSize is the page size requested from paginated resources; 0 asks
	// for the server maximum.
	PageSize  int
	Connector Connector
	// Cache is shared by every resource of the factory; a new one is
	// created when nil.
	Cache  *CapabilityCache
	Logger *slog.Logger
}

// Resources builds the resources of the tracker REST API.
type Resources struct {
	base      string
	pageSize  int
	connector Connector
	cache     *CapabilityCache
	auth      Authenticator
	log       *slog.Logger
}

func NewResources(cfg Config) *Resources {
	base := strings.TrimRight(cfg.ServerURL, "/") + "/api"
	if v := strings.Trim(cfg.APIVersion, "/"); v != "" {
		base += "/" + v
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCapabilityCache()
	}
	return &Resources{
		base:      base,
		pageSize:  cfg.PageSize,
		connector: cfg.Connector,
		cache:     cache,
		log:       cfg.Logger,
	}
}

// SetAuthenticator installs the hook that decorates authenticated requests.
// It must be called before the factory is shared between goroutines.
func (f *Resources) SetAuthenticator(a Authenticator) { f.auth = a }

// BaseURL is the API root every resource URL starts with.
func (f *Resources) BaseURL() string { return f.base }

// Cache exposes the capability cache shared by the factory's resources.
func (f *Resources) Cache() *CapabilityCache { return f.cache }

func (f *Resources) logger() *slog.Logger {
	if f.log != nil {
		return f.log
	}
	return slog.Default()
}

// Resource declares an authenticated resource at path relative to the API
// root, supporting the given methods.
func (f *Resources) Resource(path string, supported Method) *Resource {
	return &Resource{url: f.url(path), supported: supported, authenticated: true, f: f}
}

func (f *Resources) url(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return f.base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return f.base + path
}

func join(fragments ...any) string {
	var b strings.Builder
	for i, fr := range fragments {
		if i > 0 {
			b.WriteByte('/')
		}
		switch v := fr.(type) {
		case int:
			b.WriteString(strconv.Itoa(v))
		case string:
			b.WriteString(url.PathEscape(v))
		}
	}
	return b.String()
}

func (f *Resources) at(supported Method, fragments ...any) *Resource {
	return f.Resource(join(fragments...), supported)
}

// API is the API root.
func (f *Resources) API() *Resource { return f.Resource("", Get) }

// User is the current user.
func (f *Resources) User() *Resource { return f.at(Get, "users", "self") }

// Tokens issues session tokens. Requests to it carry no credentials.
func (f *Resources) Tokens() *Resource {
	r := f.at(Post, "tokens")
	r.authenticated = false
	return r
}

func (f *Resources) Projects() *Resource { return f.at(Get, "projects") }

func (f *Resources) Artifacts() *Resource { return f.at(Post, "artifacts") }

func (f *Resources) Artifact(id int) *Resource { return f.at(Get|Put, "artifacts", id) }

func (f *Resources) ArtifactChangesets(id int) *Resource {
	return f.at(Get, "artifacts", id, "changesets")
}

func (f *Resources) Tracker(id int) *Resource { return f.at(Get, "trackers", id) }

func (f *Resources) TrackerArtifacts(trackerID int) *Resource {
	return f.at(Get, "trackers", trackerID, "artifacts")
}

func (f *Resources) TrackerReports(trackerID int) *Resource {
	return f.at(Get, "trackers", trackerID, "tracker_reports")
}

func (f *Resources) TrackerReportArtifacts(reportID int) *Resource {
	return f.at(Get, "tracker_reports", reportID, "artifacts")
}

func (f *Resources) ProjectTrackers(projectID int) *Resource {
	return f.at(Get, "projects", projectID, "trackers")
}

func (f *Resources) ProjectUserGroups(projectID int) *Resource {
	return f.at(Get, "projects", projectID, "user_groups")
}

func (f *Resources) ProjectPlannings(projectID int) *Resource {
	return f.at(Get, "projects", projectID, "plannings")
}

func (f *Resources) ProjectMilestones(projectID int) *Resource {
	return f.at(Get, "projects", projectID, "milestones")
}

func (f *Resources) ProjectBacklog(projectID int) *Resource {
	return f.at(Get|Put, "projects", projectID, "backlog")
}

// UserGroupUsers lists members of a user group. Group ids are strings such
// as "101_3".
func (f *Resources) UserGroupUsers(groupID string) *Resource {
	return f.at(Get, "user_groups", groupID, "users")
}

func (f *Resources) Milestone(id int) *Resource { return f.at(Get, "milestones", id) }

func (f *Resources) MilestoneBacklog(id int) *Resource {
	return f.at(Get|Put, "milestones", id, "backlog")
}

func (f *Resources) MilestoneContent(id int) *Resource {
	return f.at(Get|Put, "milestones", id, "content")
}

func (f *Resources) MilestoneSubmilestones(id int) *Resource {
	return f.at(Get|Put, "milestones", id, "milestones")
}

func (f *Resources) MilestoneCardwall(id int) *Resource {
	return f.at(Get, "milestones", id, "cardwall")
}

func (f *Resources) BacklogItem(id int) *Resource { return f.at(Get, "backlog_items", id) }

func (f *Resources) Card(id string) *Resource { return f.at(Get|Put, "cards", id) }
