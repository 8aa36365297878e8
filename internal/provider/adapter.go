package provider

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"github.com/snapsell/api/internal/catalog"
	"github.com/snapsell/api/internal/client"
	"github.com/snapsell/api/internal/model"
)

// Submission is one provider call on behalf of a job.
type Submission struct {
	Operation  *catalog.Operation
	ImageURL   string
	SelfieURL  string
	Parameters map[string]string
}

// Result is the finished image returned by a provider.
type Result struct {
	Data          []byte
	ContentType   string
	ProviderJobID string
}

// Adapter hides the call pattern of one provider family.
type Adapter interface {
	Family() model.Family
	Supports(op *catalog.Operation) bool
	Submit(ctx context.Context, sub *Submission) (*Result, error)
}

type imageFetcher interface {
	Fetch(ctx context.Context, url string) (*client.Image, error)
}

// Dispatcher resolves operations to adapters. The mapping is fixed at
// construction.
type Dispatcher struct {
	adapters map[model.Family]Adapter
}

// NewDispatcher fails if any catalog operation has no adapter able to run it.
func NewDispatcher(cat *catalog.Catalog, adapters ...Adapter) (*Dispatcher, error) {
	d := &Dispatcher{adapters: make(map[model.Family]Adapter, len(adapters))}
	for _, a := range adapters {
		d.adapters[a.Family()] = a
	}

	for _, op := range cat.All() {
		a, ok := d.adapters[op.Family]
		if !ok {
			return nil, fmt.Errorf("no adapter for family %s (operation %s)", op.Family, op.ID)
		}
		if !a.Supports(op) {
			return nil, fmt.Errorf("%s adapter cannot run operation %s", op.Family, op.ID)
		}
	}

	return d, nil
}

func (d *Dispatcher) Resolve(op *catalog.Operation) (Adapter, error) {
	a, ok := d.adapters[op.Family]
	if !ok {
		return nil, fmt.Errorf("no adapter for family %s", op.Family)
	}
	return a, nil
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "image"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "image"
	}
	return name
}
