// Package catalog enumerates the snapshot inventory of storage clusters as a
// lazy, deterministically ordered sequence.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/internal/ontap"
	"github.com/ppiankov/snapspectre/pkg/config"
)

// Session is an open connection to one cluster's management API
type Session interface {
	ListVolumes(ctx context.Context) ([]models.VolumeRecord, error)
	ListSnapshots(ctx context.Context, volumeUUID string) ([]ontap.Snapshot, error)
	Close() error
}

// Dialer opens a session to a cluster
type Dialer interface {
	Dial(ctx context.Context, host string) (Session, error)
}

// DialFunc adapts a function to Dialer
type DialFunc func(ctx context.Context, host string) (Session, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context, host string) (Session, error) {
	return f(ctx, host)
}

// ONTAPDialer dials clusters over the ONTAP REST API and verifies the
// credentials before returning the session.
func ONTAPDialer(cfg config.ArrayConfig) Dialer {
	return DialFunc(func(ctx context.Context, host string) (Session, error) {
		client, err := ontap.NewClient(ontap.ClientConfig{
			Host:               host,
			Username:           cfg.Username,
			Password:           cfg.Password,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Timeout:            cfg.Timeout,
			RateLimit:          cfg.RateLimit,
			PageSize:           cfg.PageSize,
		})
		if err != nil {
			return nil, err
		}

		info, err := client.Cluster(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		slog.Debug("connected to cluster",
			slog.String("host", host),
			slog.String("name", info.Name),
			slog.String("version", info.Version.Full),
		)
		return client, nil
	})
}

// Catalog enumerates snapshots per cluster
type Catalog struct {
	cfg    *config.Config
	dialer Dialer
}

// New creates a catalog over the configured clusters.
func New(cfg *config.Config, dialer Dialer) *Catalog {
	return &Catalog{cfg: cfg, dialer: dialer}
}

// Snapshots returns the snapshots of one cluster, volumes sorted by name and
// snapshots sorted by name within a volume. The cluster session is opened on
// first iteration and released when iteration ends for any reason. A failure
// is yielded once as a non-nil error and ends the sequence.
func (c *Catalog) Snapshots(ctx context.Context, cluster string) iter.Seq2[models.SnapshotRecord, error] {
	host := c.cfg.ClusterFQDN(cluster)

	return func(yield func(models.SnapshotRecord, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(models.SnapshotRecord{}, fmt.Errorf("cluster %s: %w", cluster, err))
			return
		}

		session, err := c.dialer.Dial(ctx, host)
		if err != nil {
			yield(models.SnapshotRecord{}, fmt.Errorf("cluster %s: %w", cluster, err))
			return
		}
		defer func() {
			if err := session.Close(); err != nil {
				slog.Warn("failed to close cluster session",
					slog.String("cluster", cluster),
					slog.String("error", err.Error()),
				)
			}
		}()

		volumes, err := session.ListVolumes(ctx)
		if err != nil {
			yield(models.SnapshotRecord{}, fmt.Errorf("cluster %s: %w", cluster, err))
			return
		}
		volumes = c.selectVolumes(cluster, volumes)

		slog.Debug("enumerating volumes",
			slog.String("cluster", cluster),
			slog.Int("volumes", len(volumes)),
		)

		pool := NewWorkerPool(c.cfg.Concurrency, func(ctx context.Context, v models.VolumeRecord) ([]ontap.Snapshot, error) {
			return session.ListSnapshots(ctx, v.UUID)
		})
		pool.Start(ctx, volumes)
		defer pool.Stop()

		pending := make(map[int]volumeResult)
		next := 0
		for res := range pool.Results() {
			pending[res.index] = res
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if !emitVolume(cluster, host, ready, yield) {
					return
				}
			}
		}

		if next < len(volumes) {
			err := ctx.Err()
			if err == nil {
				err = errors.New("snapshot enumeration stopped early")
			}
			yield(models.SnapshotRecord{}, fmt.Errorf("cluster %s: %w", cluster, err))
		}
	}
}

// selectVolumes drops excluded volumes and sorts the rest by name.
func (c *Catalog) selectVolumes(cluster string, volumes []models.VolumeRecord) []models.VolumeRecord {
	selected := make([]models.VolumeRecord, 0, len(volumes))
	for _, v := range volumes {
		if c.cfg.IsVolumeExcluded(v.SVMName, v.Name) {
			slog.Debug("volume excluded",
				slog.String("cluster", cluster),
				slog.String("svm", v.SVMName),
				slog.String("volume", v.Name),
			)
			continue
		}
		selected = append(selected, v)
	}

	slices.SortStableFunc(selected, func(a, b models.VolumeRecord) int {
		return cmp.Or(
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.SVMName, b.SVMName),
			cmp.Compare(a.UUID, b.UUID),
		)
	})
	return selected
}

// emitVolume yields one volume's snapshots in name order. It returns false
// when iteration must stop.
func emitVolume(cluster, host string, res volumeResult, yield func(models.SnapshotRecord, error) bool) bool {
	if res.err != nil {
		// A volume deleted after listing has no snapshots left to judge.
		if errors.Is(res.err, ontap.ErrVolumeNotFound) {
			slog.Warn("volume disappeared during enumeration",
				slog.String("cluster", cluster),
				slog.String("svm", res.volume.SVMName),
				slog.String("volume", res.volume.Name),
			)
			return true
		}
		yield(models.SnapshotRecord{}, fmt.Errorf("cluster %s volume %s/%s: %w",
			cluster, res.volume.SVMName, res.volume.Name, res.err))
		return false
	}

	snapshots := slices.Clone(res.snapshots)
	slices.SortStableFunc(snapshots, func(a, b ontap.Snapshot) int {
		return cmp.Compare(a.Name, b.Name)
	})

	for _, s := range snapshots {
		record := models.SnapshotRecord{
			Name:         s.Name,
			CreationTime: s.CreateTime,
			VolumeName:   res.volume.Name,
			SVMName:      res.volume.SVMName,
			ClusterHost:  host,
		}
		if !yield(record, nil) {
			return false
		}
	}
	return true
}
