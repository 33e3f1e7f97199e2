// Package behavior implements the image pipeline job behaviors.
package behavior

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hamba/pkg/log"
	"github.com/nrwiersma/workchain/work"
	"github.com/pkg/errors"
)

// Job kinds.
const (
	KindCleanup   work.Kind = "cleanup"
	KindTransform work.Kind = "blur"
	KindPersist   work.Kind = "save-image"
)

const (
	// KeyImageURI is the data key holding an image uri.
	KeyImageURI = "image_uri"

	// TagOutput tags the job producing the final image.
	TagOutput = "output"

	// ChainName is the unique name of the image manipulation chain.
	ChainName = "image-manipulation"

	// DefaultDelay is the default simulated work delay.
	DefaultDelay = 3 * time.Second
)

// Config configures the behaviors.
type Config struct {
	// OutputDir holds temporary blurred images.
	OutputDir string

	// SaveDir holds persisted images.
	SaveDir string

	// Delay slows each behavior down to make progress observable.
	Delay time.Duration

	Transformer Transformer
	Notifier    Notifier
	Logger      log.Logger
}

// Behaviors are the image pipeline behaviors.
type Behaviors struct {
	cfg Config
	log log.Logger
}

// New returns the image pipeline behaviors.
func New(cfg Config) *Behaviors {
	if cfg.Transformer == nil {
		cfg.Transformer = BoxBlur(1)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Null
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewLogNotifier(cfg.Logger)
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = cfg.OutputDir
	}

	return &Behaviors{
		cfg: cfg,
		log: cfg.Logger,
	}
}

// Register registers the behaviors with the registry.
func (b *Behaviors) Register(reg *work.Registry) {
	reg.Register(KindCleanup, b.Cleanup)
	reg.Register(KindTransform, b.Transform)
	reg.Register(KindPersist, b.Persist)
}

// Cleanup removes the temporary images of previous runs.
func (b *Behaviors) Cleanup(ctx context.Context, _ work.Data) (work.Data, error) {
	b.cfg.Notifier.Notify("Cleaning up old temporary files")
	if err := b.sleep(ctx); err != nil {
		return nil, err
	}

	files, err := ioutil.ReadDir(b.cfg.OutputDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "behavior: error reading output dir")
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".png") {
			continue
		}

		path := filepath.Join(b.cfg.OutputDir, f.Name())
		if err := os.Remove(path); err != nil {
			return nil, errors.Wrapf(err, "behavior: error removing %s", path)
		}
		b.log.Debug("behavior: removed temporary file", "file", path)
	}
	return nil, nil
}

// Transform applies the transformer to the image at the input uri,
// returning the uri of the result.
func (b *Behaviors) Transform(ctx context.Context, in work.Data) (work.Data, error) {
	b.cfg.Notifier.Notify("Blurring image")
	if err := b.sleep(ctx); err != nil {
		return nil, err
	}

	img, err := readImage(in.String(KeyImageURI))
	if err != nil {
		return nil, err
	}

	out, err := b.cfg.Transformer.Transform(ctx, img)
	if err != nil {
		return nil, errors.Wrap(err, "behavior: error transforming image")
	}

	uri, err := writeImage(b.cfg.OutputDir, out)
	if err != nil {
		return nil, err
	}
	return work.StringData(KeyImageURI, uri), nil
}

// Persist saves the image at the input uri, returning the uri of the
// saved image.
func (b *Behaviors) Persist(ctx context.Context, in work.Data) (work.Data, error) {
	b.cfg.Notifier.Notify("Saving image")
	if err := b.sleep(ctx); err != nil {
		return nil, err
	}

	img, err := readImage(in.String(KeyImageURI))
	if err != nil {
		return nil, err
	}

	uri, err := writeImage(b.cfg.SaveDir, img)
	if err != nil {
		return nil, err
	}
	b.log.Info("behavior: image saved", "uri", uri)
	return work.StringData(KeyImageURI, uri), nil
}

func (b *Behaviors) sleep(ctx context.Context) error {
	if b.cfg.Delay <= 0 {
		return nil
	}

	t := time.NewTimer(b.cfg.Delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BlurChain builds the image manipulation chain, blurring the image
// levels times before saving it.
func BlurChain(name string, levels int, imageURI string) (work.Chain, error) {
	if levels < 1 {
		return work.Chain{}, fmt.Errorf("%w: blur level must be at least 1", work.ErrInvalidArgument)
	}

	b := work.Begin(name, work.Replace, work.NewJob(KindCleanup))
	for i := 0; i < levels; i++ {
		var opts []work.JobOption
		if i == 0 && imageURI != "" {
			opts = append(opts, work.WithInput(work.StringData(KeyImageURI, imageURI)))
		}
		b.Then(work.NewJob(KindTransform, opts...))
	}
	b.Then(work.NewJob(KindPersist,
		work.WithTags(TagOutput),
		work.WithConstraints(work.RequiresCharging),
	))

	return b.Build()
}

// URI returns the file uri of the path.
func URI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func pathFromURI(uri string) (string, error) {
	if uri == "" {
		return "", errors.New("behavior: missing image uri")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrap(err, "behavior: invalid image uri")
	}
	switch u.Scheme {
	case "":
		return uri, nil
	case "file":
		return filepath.FromSlash(u.Path), nil
	default:
		return "", errors.Errorf("behavior: unsupported uri scheme %q", u.Scheme)
	}
}

func readImage(uri string) ([]byte, error) {
	path, err := pathFromURI(uri)
	if err != nil {
		return nil, err
	}

	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "behavior: error reading image")
	}
	return b, nil
}

func writeImage(dir string, img []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "behavior: error creating output dir")
	}

	name := fmt.Sprintf("blur-filter-output-%s.png", uuid.New().String())
	path := filepath.Join(dir, name)
	if err := ioutil.WriteFile(path, img, 0o644); err != nil {
		return "", errors.Wrap(err, "behavior: error writing image")
	}
	return URI(path), nil
}
