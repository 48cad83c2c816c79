package shows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"nasferry/internal/logging"
	"nasferry/internal/services"
	"nasferry/internal/textutil"
	"nasferry/internal/tmdb"
)

// ErrShowExists is returned by Import when the show is already registered.
var ErrShowExists = fmt.Errorf("%w: show already registered", services.ErrValidation)

// ImportOptions customise Service.Import.
type ImportOptions struct {
	// SystemName overrides the TMDB name used for the library directory.
	SystemName string
	// Replace re-imports a show that is already registered.
	Replace bool
}

// Service imports shows from TMDB into a Registry.
type Service struct {
	registry   Registry
	catalog    tmdb.Catalog
	libraryDir string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs a show service. libraryDir is the root under which
// each show's directory is created.
func NewService(registry Registry, catalog tmdb.Catalog, libraryDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		registry:   registry,
		catalog:    catalog,
		libraryDir: libraryDir,
		logger:     logging.NewComponentLogger(logger, "shows"),
		now:        time.Now,
	}
}

var _ CatalogSearcher = (*Service)(nil)

// SearchRemoteCatalog returns TMDB candidates for name, best title match first.
func (s *Service) SearchRemoteCatalog(ctx context.Context, name string) ([]Candidate, error) {
	if s.catalog == nil {
		return nil, services.Wrap(services.ErrConfiguration, "shows", "search", "tmdb catalog not configured", nil)
	}
	resp, err := s.catalog.SearchTV(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("search tmdb: %w", err)
	}
	candidates := make([]Candidate, 0, len(resp.Results))
	for _, result := range resp.Results {
		score := textutil.TitleSimilarity(name, result.Name)
		if alt := textutil.TitleSimilarity(name, result.OriginalName); alt > score {
			score = alt
		}
		candidates = append(candidates, Candidate{
			ID:           result.ID,
			Name:         result.Name,
			OriginalName: result.OriginalName,
			FirstAirDate: result.FirstAirDate,
			Overview:     result.Overview,
			Score:        score,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return candidates, nil
}

// Import fetches a show and its episodes from TMDB, creates its library
// directory, and registers it.
func (s *Service) Import(ctx context.Context, id int64, opts ImportOptions) (*Show, []Episode, error) {
	if s.catalog == nil {
		return nil, nil, services.Wrap(services.ErrConfiguration, "shows", "import", "tmdb catalog not configured", nil)
	}
	existing, err := s.registry.GetShow(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load show %d: %w", id, err)
	}
	if existing != nil && !opts.Replace {
		return nil, nil, fmt.Errorf("%w: %d (%s)", ErrShowExists, id, existing.SystemName)
	}

	details, err := s.catalog.GetTVDetails(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch tmdb details: %w", err)
	}
	systemName := strings.TrimSpace(opts.SystemName)
	if systemName == "" {
		systemName = details.Name
	}
	segment := textutil.SanitizePathSegment(systemName)
	if segment == "" {
		return nil, nil, services.Wrap(services.ErrValidation, "shows", "import", fmt.Sprintf("show name %q is not usable as a directory", systemName), nil)
	}

	show := s.showFromDetails(details, systemName, filepath.Join(s.libraryDir, segment))
	if existing != nil {
		show.CreatedAt = existing.CreatedAt
	}
	episodes, err := s.fetchEpisodes(ctx, details)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(show.SystemPath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create show directory: %w", err)
	}
	if err := s.registry.SaveShow(ctx, show, episodes); err != nil {
		return nil, nil, fmt.Errorf("save show: %w", err)
	}
	s.logger.Info("show imported",
		logging.String(logging.FieldEventType, "show_imported"),
		logging.Int64("tmdb_id", show.ID),
		logging.String("system_name", show.SystemName),
		logging.String("system_path", show.SystemPath),
		logging.Int("episodes", len(episodes)),
		logging.Int("aliases", len(show.Aliases)),
	)
	return show, episodes, nil
}

// Refresh re-fetches TMDB metadata and episodes for a registered show while
// keeping its system name and path.
func (s *Service) Refresh(ctx context.Context, id int64) (*Show, []Episode, error) {
	if s.catalog == nil {
		return nil, nil, services.Wrap(services.ErrConfiguration, "shows", "refresh", "tmdb catalog not configured", nil)
	}
	existing, err := s.registry.GetShow(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load show %d: %w", id, err)
	}
	if existing == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "shows", "refresh", fmt.Sprintf("show %d is not registered", id), nil)
	}
	details, err := s.catalog.GetTVDetails(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch tmdb details: %w", err)
	}
	show := s.showFromDetails(details, existing.SystemName, existing.SystemPath)
	show.CreatedAt = existing.CreatedAt
	episodes, err := s.fetchEpisodes(ctx, details)
	if err != nil {
		return nil, nil, err
	}
	if err := s.registry.SaveShow(ctx, show, episodes); err != nil {
		return nil, nil, fmt.Errorf("save show: %w", err)
	}
	s.logger.Info("show refreshed",
		logging.String(logging.FieldEventType, "show_refreshed"),
		logging.Int64("tmdb_id", show.ID),
		logging.Int("episodes", len(episodes)),
	)
	return show, episodes, nil
}

func (s *Service) showFromDetails(details *tmdb.TVDetails, systemName, systemPath string) *Show {
	alternatives := make([]string, 0, len(details.AlternativeTitles.Results))
	for _, alt := range details.AlternativeTitles.Results {
		alternatives = append(alternatives, alt.Title)
	}
	names := []string{details.Name, details.OriginalName, systemName}
	now := s.now().UTC()
	return &Show{
		ID:           details.ID,
		SystemName:   systemName,
		SystemPath:   systemPath,
		TMDBName:     details.Name,
		Aliases:      MergeAliases(alternatives, names, dottedNames(names)),
		FirstAirDate: details.FirstAirDate,
		Status:       details.Status,
		SeasonCount:  details.NumberOfSeasons,
		EpisodeCount: details.NumberOfEpisodes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// fetchEpisodes prefers the production episode group and falls back to
// broadcast seasons when no group exists or the group cannot be fetched.
func (s *Service) fetchEpisodes(ctx context.Context, details *tmdb.TVDetails) ([]Episode, error) {
	if groupID := productionGroupID(details); groupID != "" {
		group, err := s.catalog.GetEpisodeGroup(ctx, groupID)
		switch {
		case err == nil:
			if episodes := EpisodesFromGroup(details.ID, group); len(episodes) > 0 {
				return episodes, nil
			}
		case errors.Is(err, context.Canceled):
			return nil, err
		default:
			s.logger.Warn("episode group fetch failed; using broadcast seasons",
				logging.Int64("tmdb_id", details.ID),
				logging.String("group_id", groupID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "absolute numbering follows broadcast order"),
			)
		}
	}

	seasons := make([]*tmdb.SeasonDetails, 0, len(details.Seasons))
	for _, summary := range details.Seasons {
		if summary.SeasonNumber <= 0 {
			continue
		}
		season, err := s.catalog.GetSeasonDetails(ctx, details.ID, summary.SeasonNumber)
		if err != nil {
			return nil, fmt.Errorf("fetch season %d: %w", summary.SeasonNumber, err)
		}
		seasons = append(seasons, season)
	}
	return EpisodesFromSeasons(details.ID, seasons), nil
}

// dottedNames returns release-style spellings ("Show.Name") of names so the
// SxxExx filename pattern, which keeps dots in the show name, finds the show.
func dottedNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if fields := strings.Fields(name); len(fields) > 1 {
			out = append(out, strings.Join(fields, "."))
		}
	}
	return out
}
