package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/catalog"
	"github.com/snapsell/api/internal/client"
	"github.com/snapsell/api/internal/model"
)

var (
	_ modelAPI     = (*client.FashnClient)(nil)
	_ studioAPI    = (*client.PhotoroomClient)(nil)
	_ imageFetcher = (*client.ImageFetcher)(nil)
)

type stubFetcher struct {
	fetched []string
	err     error
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*client.Image, error) {
	f.fetched = append(f.fetched, url)
	if f.err != nil {
		return nil, f.err
	}
	return &client.Image{Data: []byte("bytes:" + url), ContentType: "image/png"}, nil
}

type stubStudio struct {
	segmentFile string
	segmentOpts client.SegmentOptions
	editOpts    client.EditOptions
	err         error
}

func (s *stubStudio) Segment(ctx context.Context, image []byte, filename string, opts client.SegmentOptions) (*client.Image, error) {
	s.segmentFile = filename
	s.segmentOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &client.Image{Data: []byte("cutout"), ContentType: "image/png"}, nil
}

func (s *stubStudio) Edit(ctx context.Context, opts client.EditOptions) (*client.Image, error) {
	s.editOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &client.Image{Data: []byte("edited"), ContentType: "image/png"}, nil
}

type stubModel struct {
	req     *client.RunRequest
	runErr  error
	pollErr error
	output  []string
}

func (m *stubModel) Run(ctx context.Context, req *client.RunRequest) (*client.RunResponse, error) {
	m.req = req
	if m.runErr != nil {
		return nil, m.runErr
	}
	return &client.RunResponse{ID: "pred-42"}, nil
}

func (m *stubModel) Poll(ctx context.Context, id string) (*client.StatusResponse, error) {
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	return &client.StatusResponse{ID: id, Status: client.FashnStatusCompleted, Output: m.output}, nil
}

func lookup(t *testing.T, id model.OperationID) *catalog.Operation {
	t.Helper()
	op, ok := catalog.MustNew().Lookup(id)
	if !ok {
		t.Fatalf("operation %s missing", id)
	}
	return op
}

func TestNewDispatcher_CoversCatalog(t *testing.T) {
	cat := catalog.MustNew()
	studio := NewStudioAdapter(&stubStudio{}, &stubFetcher{}, zerolog.Nop())
	modelAdapter := NewModelAdapter(&stubModel{}, &stubFetcher{}, zerolog.Nop())

	d, err := NewDispatcher(cat, studio, modelAdapter)
	if err != nil {
		t.Fatalf("NewDispatcher returned error: %v", err)
	}

	for _, op := range cat.All() {
		a, err := d.Resolve(op)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", op.ID, err)
		}
		if a.Family() != op.Family {
			t.Errorf("%s resolved to %s adapter", op.ID, a.Family())
		}
	}
}

func TestNewDispatcher_MissingFamily(t *testing.T) {
	studio := NewStudioAdapter(&stubStudio{}, &stubFetcher{}, zerolog.Nop())
	if _, err := NewDispatcher(catalog.MustNew(), studio); err == nil {
		t.Fatal("expected error when the model family has no adapter")
	}
}

func TestStudioAdapter_BasicFetchesThenSegments(t *testing.T) {
	api := &stubStudio{}
	fetcher := &stubFetcher{}
	a := NewStudioAdapter(api, fetcher, zerolog.Nop())

	res, err := a.Submit(context.Background(), &Submission{
		Operation:  lookup(t, model.OperationRemoveBackground),
		ImageURL:   "https://img.test/products/mug.jpg",
		Parameters: map[string]string{"background_color": "#000000"},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if string(res.Data) != "cutout" {
		t.Errorf("unexpected result %q", res.Data)
	}
	if len(fetcher.fetched) != 1 || api.segmentFile != "mug.jpg" {
		t.Errorf("expected source fetch and filename mug.jpg, got %v / %q", fetcher.fetched, api.segmentFile)
	}
	if api.segmentOpts.Format != "png" || api.segmentOpts.BackgroundColor != "#000000" {
		t.Errorf("unexpected segment options %+v", api.segmentOpts)
	}
}

func TestStudioAdapter_EditBuilders(t *testing.T) {
	api := &stubStudio{}
	a := NewStudioAdapter(api, &stubFetcher{}, zerolog.Nop())

	_, err := a.Submit(context.Background(), &Submission{
		Operation:  lookup(t, model.OperationAIBackground),
		ImageURL:   "https://img.test/bag.jpg",
		Parameters: map[string]string{"background_prompt": "sunlit beach"},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if api.editOpts.BackgroundPrompt != "sunlit beach" || api.editOpts.ImageURL != "https://img.test/bag.jpg" {
		t.Errorf("unexpected edit options %+v", api.editOpts)
	}

	_, _ = a.Submit(context.Background(), &Submission{
		Operation: lookup(t, model.OperationStudioShadow),
		ImageURL:  "https://img.test/bag.jpg",
	})
	if api.editOpts.ShadowMode != "ai.soft" || api.editOpts.BackgroundColor != "FFFFFF" {
		t.Errorf("expected shadow defaults, got %+v", api.editOpts)
	}
}

func TestStudioAdapter_PropagatesProviderError(t *testing.T) {
	perr := &client.ProviderError{Provider: "photoroom", Kind: model.FailureValidation}
	a := NewStudioAdapter(&stubStudio{err: perr}, &stubFetcher{}, zerolog.Nop())

	_, err := a.Submit(context.Background(), &Submission{
		Operation: lookup(t, model.OperationStudioLighting),
		ImageURL:  "https://img.test/bag.jpg",
	})
	if !errors.Is(err, perr) || client.KindOf(err) != model.FailureValidation {
		t.Errorf("expected validation provider error, got %v", err)
	}
}

func TestModelAdapter_TryOnPayload(t *testing.T) {
	api := &stubModel{output: []string{"https://cdn.test/out.png"}}
	fetcher := &stubFetcher{}
	a := NewModelAdapter(api, fetcher, zerolog.Nop())

	res, err := a.Submit(context.Background(), &Submission{
		Operation: lookup(t, model.OperationVirtualTryOn),
		ImageURL:  "https://img.test/shirt.jpg",
		SelfieURL: "https://img.test/me.jpg",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if api.req.ModelName != "tryon-v1.6" {
		t.Errorf("unexpected model %q", api.req.ModelName)
	}
	if api.req.Inputs["model_image"] != "https://img.test/me.jpg" || api.req.Inputs["garment_image"] != "https://img.test/shirt.jpg" {
		t.Errorf("selfie and garment not mapped: %+v", api.req.Inputs)
	}
	if res.ProviderJobID != "pred-42" || fetcher.fetched[0] != "https://cdn.test/out.png" {
		t.Errorf("unexpected result %+v, fetched %v", res, fetcher.fetched)
	}
}

func TestModelAdapter_ProductToModelHasNoPerson(t *testing.T) {
	api := &stubModel{output: []string{"https://cdn.test/out.png"}}
	a := NewModelAdapter(api, &stubFetcher{}, zerolog.Nop())

	_, err := a.Submit(context.Background(), &Submission{
		Operation:  lookup(t, model.OperationProductToModel),
		ImageURL:   "https://img.test/dress.jpg",
		Parameters: map[string]string{"prompt": "studio shot"},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, ok := api.req.Inputs["model_image"]; ok {
		t.Error("product_to_model must not send a model image")
	}
	if api.req.Inputs["product_image"] != "https://img.test/dress.jpg" {
		t.Errorf("unexpected inputs %+v", api.req.Inputs)
	}
}

func TestModelAdapter_PollTimeout(t *testing.T) {
	timeout := &client.ProviderError{Provider: "fashn", Kind: model.FailureTimeout}
	a := NewModelAdapter(&stubModel{pollErr: timeout}, &stubFetcher{}, zerolog.Nop())

	_, err := a.Submit(context.Background(), &Submission{
		Operation: lookup(t, model.OperationModelSwap),
		ImageURL:  "https://img.test/look.jpg",
	})
	if client.KindOf(err) != model.FailureTimeout {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestModelAdapter_SubjectDescriptorsFoldIntoPrompt(t *testing.T) {
	tests := []struct {
		name   string
		op     model.OperationID
		params map[string]string
		want   string
	}{
		{"all descriptors with prompt", model.OperationProductToModel,
			map[string]string{"gender": "female", "ethnicity": "South Asian", "pose": "standing", "prompt": "beach at sunset"},
			"female south asian model, standing pose. beach at sunset"},
		{"gender only", model.OperationProductToModel,
			map[string]string{"gender": "male"},
			"male model"},
		{"pose only on model swap", model.OperationModelSwap,
			map[string]string{"pose": "walking"},
			"model, walking pose"},
		{"prompt unchanged without descriptors", model.OperationModelSwap,
			map[string]string{"prompt": "studio shot"},
			"studio shot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &stubModel{output: []string{"https://cdn.test/out.png"}}
			a := NewModelAdapter(api, &stubFetcher{}, zerolog.Nop())

			sub := &Submission{Operation: lookup(t, tt.op), ImageURL: "https://img.test/in.jpg", Parameters: tt.params}
			if err := sub.Operation.ValidateParameters(tt.params); err != nil {
				t.Fatalf("parameters rejected: %v", err)
			}
			if _, err := a.Submit(context.Background(), sub); err != nil {
				t.Fatalf("Submit returned error: %v", err)
			}
			if got := api.req.Inputs["prompt"]; got != tt.want {
				t.Errorf("prompt = %q, want %q", got, tt.want)
			}
			for _, key := range []string{"gender", "ethnicity", "pose"} {
				if _, ok := api.req.Inputs[key]; ok {
					t.Errorf("%s must be folded into the prompt, not sent as an input", key)
				}
			}
		})
	}
}

func TestModelAdapter_NoPromptWithoutParameters(t *testing.T) {
	api := &stubModel{output: []string{"https://cdn.test/out.png"}}
	a := NewModelAdapter(api, &stubFetcher{}, zerolog.Nop())

	if _, err := a.Submit(context.Background(), &Submission{
		Operation: lookup(t, model.OperationProductToModel),
		ImageURL:  "https://img.test/dress.jpg",
	}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, ok := api.req.Inputs["prompt"]; ok {
		t.Errorf("unexpected prompt %v", api.req.Inputs["prompt"])
	}
}
