package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/omniworld/internal/world"
)

// Request carries everything the oracle sees about one action: the actor,
// their surroundings, and the rule directives. It is a read-only snapshot;
// by the time the verdict arrives the world may have moved on.
type Request struct {
	ActionText string
	Actor      *world.Actor
	Snapshot   *world.Snapshot
	Time       world.WorldTime
	Weather    string
	Directives string
	// Materials known to the registry, for grounding invented physics.
	Materials []*world.Material
	// RecentEvents gives short narrative context from the action log.
	RecentEvents []string
}

// Oracle judges free-form actions. Implementations must respect ctx; a
// deadline hit surfaces as ErrTimeout.
type Oracle interface {
	Judge(ctx context.Context, req Request) (*Verdict, error)
}

// Verdict is the oracle's raw, untrusted ruling in wire form. It is
// validated against verdictSchema before any field is read.
type Verdict struct {
	Success   bool   `json:"success"`
	Narrative string `json:"narrative"`

	WorldUpdate struct {
		Create []struct {
			Name        string         `json:"name"`
			Description string         `json:"description,omitempty"`
			Material    string         `json:"material,omitempty"`
			PosDelta    world.Coord    `json:"pos_delta,omitempty"`
			Properties  map[string]any `json:"properties,omitempty"`
		} `json:"create,omitempty"`
		Destroy []string `json:"destroy,omitempty"`
		Modify  []struct {
			Name            string         `json:"name"`
			Description     string         `json:"description,omitempty"`
			DurabilityDelta float64        `json:"durability_delta,omitempty"`
			Properties      map[string]any `json:"properties,omitempty"`
		} `json:"modify,omitempty"`
	} `json:"world_update,omitempty"`

	UserUpdate struct {
		StatusDesc      string `json:"status_desc,omitempty"`
		InventoryChange struct {
			Add    []world.ItemRef `json:"add,omitempty"`
			Remove []world.ItemRef `json:"remove,omitempty"`
		} `json:"inventory_change,omitempty"`
		PositionDelta   world.Coord        `json:"position_delta,omitempty"`
		HealthDelta     float64            `json:"health_delta,omitempty"`
		HungerDelta     float64            `json:"hunger_delta,omitempty"`
		ReputationDelta float64            `json:"reputation_delta,omitempty"`
		TimeSkipHours   float64            `json:"time_skip_hours,omitempty"`
		IsDead          bool               `json:"is_dead,omitempty"`
		NewKnowledge    map[string]float64 `json:"new_knowledge,omitempty"`
	} `json:"user_update,omitempty"`

	NewDiscovery *struct {
		Name        string              `json:"name"`
		Description string              `json:"description,omitempty"`
		Properties  world.MaterialProps `json:"properties"`
	} `json:"new_discovery,omitempty"`

	NewObjectType *struct {
		Name        string          `json:"name"`
		Inputs      []world.ItemRef `json:"inputs"`
		Output      string          `json:"output"`
		Knowledge   string          `json:"knowledge,omitempty"`
		MinLevel    float64         `json:"min_level,omitempty"`
		Description string          `json:"description,omitempty"`
	} `json:"new_object_type,omitempty"`

	Risks       map[string]float64 `json:"risks,omitempty"`
	EngineNotes []string           `json:"engine_notes,omitempty"`
}

// verdictSchema is the contract for untrusted oracle output. Anything the
// schema rejects fails the action as ErrBadVerdict rather than corrupting
// world state.
const verdictSchema = `{
  "type": "object",
  "required": ["success", "narrative"],
  "properties": {
    "success": {"type": "boolean"},
    "narrative": {"type": "string", "minLength": 1, "maxLength": 4000},
    "world_update": {
      "type": "object",
      "properties": {
        "create": {"type": "array", "maxItems": 16, "items": {
          "type": "object",
          "required": ["name"],
          "properties": {
            "name": {"type": "string", "minLength": 1, "maxLength": 120},
            "description": {"type": "string", "maxLength": 1000},
            "material": {"type": "string", "maxLength": 120},
            "pos_delta": {"$ref": "#/$defs/coord"},
            "properties": {"type": "object"}
          }
        }},
        "destroy": {"type": "array", "maxItems": 16, "items": {"type": "string", "maxLength": 120}},
        "modify": {"type": "array", "maxItems": 16, "items": {
          "type": "object",
          "required": ["name"],
          "properties": {
            "name": {"type": "string", "minLength": 1, "maxLength": 120},
            "description": {"type": "string", "maxLength": 1000},
            "durability_delta": {"type": "number", "minimum": -1, "maximum": 1},
            "properties": {"type": "object"}
          }
        }}
      }
    },
    "user_update": {
      "type": "object",
      "properties": {
        "status_desc": {"type": "string", "maxLength": 500},
        "inventory_change": {
          "type": "object",
          "properties": {
            "add": {"$ref": "#/$defs/items"},
            "remove": {"$ref": "#/$defs/items"}
          }
        },
        "position_delta": {"$ref": "#/$defs/coord"},
        "health_delta": {"type": "number", "minimum": -1, "maximum": 1},
        "hunger_delta": {"type": "number", "minimum": -1, "maximum": 1},
        "reputation_delta": {"type": "number", "minimum": -1, "maximum": 1},
        "time_skip_hours": {"type": "number", "minimum": 0, "maximum": 24},
        "is_dead": {"type": "boolean"},
        "new_knowledge": {"type": "object", "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}}
      }
    },
    "new_discovery": {
      "type": "object",
      "required": ["name", "properties"],
      "properties": {
        "name": {"type": "string", "minLength": 1, "maxLength": 120},
        "description": {"type": "string", "maxLength": 1000},
        "properties": {
          "type": "object",
          "properties": {
            "hardness": {"type": "number", "minimum": 0, "maximum": 1},
            "flammability": {"type": "number", "minimum": 0, "maximum": 1},
            "decay_rate": {"type": "number", "minimum": 0, "maximum": 1},
            "conductivity": {"type": "number", "minimum": 0, "maximum": 1}
          }
        }
      }
    },
    "new_object_type": {
      "type": "object",
      "required": ["name", "inputs", "output"],
      "properties": {
        "name": {"type": "string", "minLength": 1, "maxLength": 120},
        "inputs": {"$ref": "#/$defs/items"},
        "output": {"type": "string", "minLength": 1, "maxLength": 120},
        "knowledge": {"type": "string", "maxLength": 120},
        "min_level": {"type": "number", "minimum": 0, "maximum": 1},
        "description": {"type": "string", "maxLength": 1000}
      }
    },
    "risks": {"type": "object", "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}},
    "engine_notes": {"type": "array", "maxItems": 16, "items": {"type": "string", "maxLength": 500}}
  },
  "$defs": {
    "coord": {
      "type": "object",
      "properties": {
        "x": {"type": "integer", "minimum": -50, "maximum": 50},
        "y": {"type": "integer", "minimum": -50, "maximum": 50},
        "z": {"type": "integer", "minimum": -50, "maximum": 50}
      }
    },
    "items": {
      "type": "array",
      "maxItems": 16,
      "items": {
        "type": "object",
        "required": ["name", "qty"],
        "properties": {
          "name": {"type": "string", "minLength": 1, "maxLength": 120},
          "qty": {"type": "integer", "minimum": 1, "maximum": 999}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("verdict.json", verdictSchema)

// ParseVerdict extracts and validates the JSON verdict from raw oracle
// text. The oracle sometimes wraps the object in prose; only the outermost
// braces are considered.
func ParseVerdict(raw string) (*Verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in oracle response: %w", ErrBadVerdict)
	}
	jsonStr := raw[start : end+1]

	var untyped any
	if err := json.Unmarshal([]byte(jsonStr), &untyped); err != nil {
		return nil, fmt.Errorf("verdict not valid JSON: %w", ErrBadVerdict)
	}
	if err := compiledSchema.Validate(untyped); err != nil {
		return nil, fmt.Errorf("verdict schema: %v: %w", err, ErrBadVerdict)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(jsonStr), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", ErrBadVerdict)
	}
	return &v, nil
}

// LLMJudge is the production oracle over the Messages API.
type LLMJudge struct {
	client *Client
}

// NewLLMJudge wraps an API client as an Oracle.
func NewLLMJudge(client *Client) *LLMJudge {
	return &LLMJudge{client: client}
}

// Judge sends one action for ruling and parses the verdict.
func (j *LLMJudge) Judge(ctx context.Context, req Request) (*Verdict, error) {
	raw, err := j.client.Complete(ctx, buildSystemPrompt(req), buildUserPrompt(req), 1500)
	if err != nil {
		return nil, err
	}
	return ParseVerdict(raw)
}

func buildSystemPrompt(req Request) string {
	return fmt.Sprintf(`You are the physics and plausibility arbiter of a persistent survival world. A player has declared an action in free text. Rule on whether it succeeds and exactly what changes.

World rules:
%s

Respond ONLY with a single JSON object:
- "success": whether the action plausibly succeeds
- "narrative": 1-3 sentences of second-person prose describing what happens (never break character or reference the simulation)
- "world_update": objects to "create" (name, description, material, pos_delta relative to the player), "destroy" (names of nearby objects), "modify" (name plus description/durability_delta/properties)
- "user_update": status_desc, inventory_change {add, remove}, position_delta, health_delta, hunger_delta, reputation_delta, time_skip_hours, is_dead, new_knowledge
- "new_discovery": only when the action plausibly yields a genuinely new material (name, description, properties with hardness/flammability/decay_rate/conductivity in 0..1)
- "new_object_type": only for a genuinely new crafting recipe (name, inputs, output, knowledge, min_level)
- "risks": named hazards with probability 0..1 that the simulation will roll
- "engine_notes": short hints for the deterministic simulation

Every person met, item gained, or structure entered must appear in world_update or inventory_change. Deltas are suggestions; the simulation clamps them.`,
		req.Directives)
}

func buildUserPrompt(req Request) string {
	var b strings.Builder

	a := req.Actor
	fmt.Fprintf(&b, "Player: %s at %s, %s biome (%s).\n", a.Name, a.Pos, req.Snapshot.Biome.Type, req.Snapshot.Biome.Description)
	fmt.Fprintf(&b, "Local time %02d:%02d (%s). Weather: %s.\n", req.Time.Hour, req.Time.Minute, req.Time.Period, req.Weather)
	fmt.Fprintf(&b, "Health %.2f, hunger %.2f, reputation %.2f. Status: %s\n", a.Health, a.Hunger, a.Reputation, a.Status)
	if len(a.Diseases) > 0 {
		fmt.Fprintf(&b, "Afflictions: %s\n", strings.Join(a.Diseases, ", "))
	}

	if len(a.Inventory) > 0 {
		b.WriteString("Inventory:\n")
		for _, it := range a.Inventory {
			fmt.Fprintf(&b, "- %s x%d\n", it.Name, it.Qty)
		}
	} else {
		b.WriteString("Inventory: empty.\n")
	}

	if len(a.Knowledge) > 0 {
		b.WriteString("Known technologies:\n")
		for k, lvl := range a.Knowledge {
			fmt.Fprintf(&b, "- %s (%.2f)\n", k, lvl)
		}
	}

	if len(req.Snapshot.Objects) > 0 {
		b.WriteString("\nNearby objects:\n")
		for _, o := range req.Snapshot.Objects {
			if o.Holder != "" {
				continue
			}
			fmt.Fprintf(&b, "- %s at %s (material %s, durability %.2f): %s\n",
				o.Name, o.Pos, o.Material, o.Durability, o.Description)
		}
	}

	if len(req.Materials) > 0 {
		b.WriteString("\nKnown materials: ")
		names := make([]string, 0, len(req.Materials))
		for _, m := range req.Materials {
			names = append(names, m.ID)
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}

	if len(req.RecentEvents) > 0 {
		b.WriteString("\nRecent events here:\n")
		for _, ev := range req.RecentEvents {
			fmt.Fprintf(&b, "- %s\n", ev)
		}
	}

	fmt.Fprintf(&b, "\nThe player declares: %q\n\nRule on this action. Respond with a single JSON object.", req.ActionText)
	return b.String()
}
