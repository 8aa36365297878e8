package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/snapsell/api/internal/model"
)

// Endpoint selects the studio provider variant for an operation.
type Endpoint string

const (
	EndpointBasic Endpoint = "basic" // plain foreground extraction
	EndpointEdit  Endpoint = "edit"  // compositing, shadows, lighting, AI backgrounds
)

// Operation is one entry of the immutable operation table.
type Operation struct {
	ID             model.OperationID
	CreditCost     int
	Family         model.Family
	MinimumTier    model.Tier
	Category       model.UsageCategory
	Endpoint       Endpoint
	RequiresSelfie bool

	schema *jsonschema.Schema
}

// ValidateParameters checks the caller supplied parameters against the
// operation's schema.
func (o *Operation) ValidateParameters(params map[string]string) error {
	doc := make(map[string]interface{}, len(params))
	for k, v := range params {
		doc[k] = v
	}
	if err := o.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("invalid parameters for %s: %s", o.ID, strings.Join(violations(ve, nil), "; "))
		}
		return fmt.Errorf("invalid parameters for %s: %w", o.ID, err)
	}
	return nil
}

// violations flattens a validation error tree into "param: message" lines
// without the schema locations.
func violations(ve *jsonschema.ValidationError, out []string) []string {
	if len(ve.Causes) == 0 {
		if param := strings.TrimPrefix(ve.InstanceLocation, "/"); param != "" {
			return append(out, param+": "+ve.Message)
		}
		return append(out, ve.Message)
	}
	for _, cause := range ve.Causes {
		out = violations(cause, out)
	}
	return out
}

// Info returns the public description of the operation.
func (o *Operation) Info() model.OperationInfo {
	return model.OperationInfo{
		ID:             o.ID,
		CreditCost:     o.CreditCost,
		MinimumTier:    o.MinimumTier,
		Family:         o.Family,
		RequiresSelfie: o.RequiresSelfie,
	}
}

type definition struct {
	op     Operation
	schema string
}

const sizeProps = `
		"output_size": {"type": "string", "pattern": "^[0-9]{2,4}x[0-9]{2,4}$"},
		"padding": {"type": "string", "pattern": "^0(\\.[0-9]+)?$"},
		"background_color": {"type": "string", "pattern": "^#?[0-9A-Fa-f]{6}$"}`

// subjectProps describe the generated person for the model family.
const subjectProps = `
		"gender": {"enum": ["female", "male", "non-binary"]},
		"ethnicity": {"type": "string", "minLength": 2, "maxLength": 40, "pattern": "^[A-Za-z][A-Za-z ,'-]*$"},
		"pose": {"type": "string", "minLength": 2, "maxLength": 60, "pattern": "^[A-Za-z][A-Za-z ,'-]*$"}`

var definitions = []definition{
	{
		op: Operation{
			ID: model.OperationRemoveBackground, CreditCost: 1, Family: model.FamilyStudio,
			MinimumTier: model.TierFree, Category: model.CategoryPhotoEdits, Endpoint: EndpointBasic,
		},
		schema: `{
	"type": "object",
	"properties": {
		"background_color": {"type": "string", "pattern": "^#?[0-9A-Fa-f]{6}$"},
		"format": {"enum": ["png", "jpg", "webp"]},
		"size": {"enum": ["preview", "medium", "hd", "full"]}
	},
	"additionalProperties": false
}`,
	},
	{
		op: Operation{
			ID: model.OperationStudioShadow, CreditCost: 1, Family: model.FamilyStudio,
			MinimumTier: model.TierStarter, Category: model.CategoryPhotoEdits, Endpoint: EndpointEdit,
		},
		schema: `{
	"type": "object",
	"properties": {
		"shadow_mode": {"enum": ["ai.soft", "ai.hard", "ai.floating"]},` + sizeProps + `
	},
	"additionalProperties": false
}`,
	},
	{
		op: Operation{
			ID: model.OperationStudioLighting, CreditCost: 1, Family: model.FamilyStudio,
			MinimumTier: model.TierStarter, Category: model.CategoryPhotoEdits, Endpoint: EndpointEdit,
		},
		schema: `{
	"type": "object",
	"properties": {
		"lighting_mode": {"enum": ["ai.auto", "ai.preserve-hue-and-saturation"]},` + sizeProps + `
	},
	"additionalProperties": false
}`,
	},
	{
		op: Operation{
			ID: model.OperationAIBackground, CreditCost: 2, Family: model.FamilyStudio,
			MinimumTier: model.TierStarter, Category: model.CategoryPhotoEdits, Endpoint: EndpointEdit,
		},
		schema: `{
	"type": "object",
	"properties": {
		"background_prompt": {"type": "string", "minLength": 3, "maxLength": 500},
		"shadow_mode": {"enum": ["ai.soft", "ai.hard", "ai.floating"]},` + sizeProps + `
	},
	"required": ["background_prompt"],
	"additionalProperties": false
}`,
	},
	{
		op: Operation{
			ID: model.OperationProductToModel, CreditCost: 3, Family: model.FamilyModel,
			MinimumTier: model.TierPro, Category: model.CategoryModelShots,
		},
		schema: `{
	"type": "object",
	"properties": {
		"prompt": {"type": "string", "maxLength": 500},
		"aspect_ratio": {"enum": ["1:1", "2:3", "3:4", "4:5", "9:16"]},` + subjectProps + `
	},
	"additionalProperties": false
}`,
	},
	{
		op: Operation{
			ID: model.OperationVirtualTryOn, CreditCost: 3, Family: model.FamilyModel,
			MinimumTier: model.TierPro, Category: model.CategoryModelShots, RequiresSelfie: true,
		},
		schema: `{
	"type": "object",
	"properties": {
		"category": {"enum": ["auto", "tops", "bottoms", "one-pieces"]},
		"garment_photo_type": {"enum": ["auto", "flat-lay", "model"]},
		"mode": {"enum": ["performance", "balanced", "quality"]}
	},
	"additionalProperties": false
}`,
	},
	{
		op: Operation{
			ID: model.OperationModelSwap, CreditCost: 3, Family: model.FamilyModel,
			MinimumTier: model.TierBusiness, Category: model.CategoryModelShots,
		},
		schema: `{
	"type": "object",
	"properties": {
		"prompt": {"type": "string", "maxLength": 500},
		"background_change": {"enum": ["true", "false"]},` + subjectProps + `
	},
	"additionalProperties": false
}`,
	},
}

// Catalog is the read-only operation table, built once at startup.
type Catalog struct {
	ops   map[model.OperationID]*Operation
	order []model.OperationID
}

const schemaBaseURL = "https://schemas.snapsell.app/operations/"

// New compiles the parameter schemas of every operation.
func New() (*Catalog, error) {
	compiler := jsonschema.NewCompiler()
	c := &Catalog{ops: make(map[model.OperationID]*Operation, len(definitions))}

	for _, def := range definitions {
		url := schemaBaseURL + string(def.op.ID) + ".json"
		if err := compiler.AddResource(url, strings.NewReader(def.schema)); err != nil {
			return nil, fmt.Errorf("add schema for %s: %w", def.op.ID, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", def.op.ID, err)
		}

		op := def.op
		op.schema = schema
		c.ops[op.ID] = &op
		c.order = append(c.order, op.ID)
	}

	return c, nil
}

// MustNew is New for program initialization.
func MustNew() *Catalog {
	c, err := New()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Lookup(id model.OperationID) (*Operation, bool) {
	op, ok := c.ops[id]
	return op, ok
}

// All returns the operations in declaration order.
func (c *Catalog) All() []*Operation {
	out := make([]*Operation, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.ops[id])
	}
	return out
}

func (c *Catalog) Info() []model.OperationInfo {
	out := make([]model.OperationInfo, 0, len(c.order))
	for _, op := range c.All() {
		out = append(out, op.Info())
	}
	return out
}
