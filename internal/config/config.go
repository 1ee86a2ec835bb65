package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models siteline.yml: the fixed catalogs a project is instantiated from.
type Config struct {
	Disciplines  map[string]DisciplineConfig  `yaml:"disciplines" json:"disciplines"`
	Phases       []PhaseTemplate              `yaml:"phases" json:"phases"`
	Approvals    []ApprovalTemplate           `yaml:"approvals" json:"approvals"`
	ProjectTypes map[string]ProjectTypeConfig `yaml:"project_types" json:"project_types"`
}

type DisciplineConfig struct {
	Description string `yaml:"description" json:"description"`
}

type PhaseTemplate struct {
	ID            string              `yaml:"id" json:"id"`
	Name          string              `yaml:"name" json:"name"`
	EstimatedDays int                 `yaml:"estimated_days" json:"estimated_days"`
	DependsOn     []string            `yaml:"depends_on" json:"depends_on,omitempty"`
	Milestones    []MilestoneTemplate `yaml:"milestones" json:"milestones"`
}

type MilestoneTemplate struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// DueOffsetDays counts from the project start date.
	DueOffsetDays int `yaml:"due_offset_days" json:"due_offset_days"`
}

type ApprovalTemplate struct {
	ID                string   `yaml:"id" json:"id"`
	Name              string   `yaml:"name" json:"name"`
	Authority         string   `yaml:"authority" json:"authority"`
	EstimatedDays     int      `yaml:"estimated_days" json:"estimated_days"`
	RequiredDocuments []string `yaml:"required_documents" json:"required_documents"`
}

// ProjectTypeConfig selects, per project type, which catalog entries apply.
type ProjectTypeConfig struct {
	Disciplines []string `yaml:"disciplines" json:"disciplines"`
	Phases      []string `yaml:"phases" json:"phases"`
	Approvals   []string `yaml:"approvals" json:"approvals"`
}

// Validate ensures the catalog is internally consistent.
func (c *Config) Validate() error {
	if len(c.ProjectTypes) == 0 {
		return fmt.Errorf("config.project_types is required")
	}
	phases := map[string]PhaseTemplate{}
	for _, ph := range c.Phases {
		if ph.ID == "" {
			return fmt.Errorf("config.phases contains empty phase id")
		}
		if _, dup := phases[ph.ID]; dup {
			return fmt.Errorf("phase %s defined twice", ph.ID)
		}
		if ph.EstimatedDays < 0 {
			return fmt.Errorf("phase %s has negative estimated_days", ph.ID)
		}
		seen := map[string]bool{}
		for _, m := range ph.Milestones {
			if m.ID == "" {
				return fmt.Errorf("phase %s has milestone with empty id", ph.ID)
			}
			if seen[m.ID] {
				return fmt.Errorf("phase %s has duplicate milestone %s", ph.ID, m.ID)
			}
			seen[m.ID] = true
		}
		phases[ph.ID] = ph
	}
	for _, ph := range c.Phases {
		for _, dep := range ph.DependsOn {
			if _, ok := phases[dep]; !ok {
				return fmt.Errorf("phase %s depends on unknown phase %s", ph.ID, dep)
			}
		}
	}
	approvals := map[string]bool{}
	for _, a := range c.Approvals {
		if a.ID == "" {
			return fmt.Errorf("config.approvals contains empty approval id")
		}
		if approvals[a.ID] {
			return fmt.Errorf("approval %s defined twice", a.ID)
		}
		if a.EstimatedDays < 0 {
			return fmt.Errorf("approval %s has negative estimated_days", a.ID)
		}
		for _, doc := range a.RequiredDocuments {
			if doc == "" {
				return fmt.Errorf("approval %s has empty required document", a.ID)
			}
		}
		approvals[a.ID] = true
	}
	for typ, pt := range c.ProjectTypes {
		required := map[string]bool{}
		for _, d := range pt.Disciplines {
			if _, ok := c.Disciplines[d]; !ok {
				return fmt.Errorf("project type %s requires unknown discipline %s", typ, d)
			}
			if required[d] {
				return fmt.Errorf("project type %s lists discipline %s twice", typ, d)
			}
			required[d] = true
		}
		selected := map[string]bool{}
		for _, id := range pt.Phases {
			if _, ok := phases[id]; !ok {
				return fmt.Errorf("project type %s uses unknown phase %s", typ, id)
			}
			if selected[id] {
				return fmt.Errorf("project type %s lists phase %s twice", typ, id)
			}
			selected[id] = true
		}
		// a selected phase may only depend on phases the same type also selects
		for _, id := range pt.Phases {
			for _, dep := range phases[id].DependsOn {
				if !selected[dep] {
					return fmt.Errorf("project type %s: phase %s depends on %s which is not selected", typ, id, dep)
				}
			}
		}
		listed := map[string]bool{}
		for _, id := range pt.Approvals {
			if !approvals[id] {
				return fmt.Errorf("project type %s uses unknown approval %s", typ, id)
			}
			if listed[id] {
				return fmt.Errorf("project type %s lists approval %s twice", typ, id)
			}
			listed[id] = true
		}
	}
	return nil
}

// ForType returns the catalog entries for a project type in declaration order.
func (c *Config) ForType(projectType string) (ProjectTypeConfig, []PhaseTemplate, []ApprovalTemplate, error) {
	pt, ok := c.ProjectTypes[projectType]
	if !ok {
		return ProjectTypeConfig{}, nil, nil, fmt.Errorf("unknown project type %s", projectType)
	}
	var phases []PhaseTemplate
	for _, id := range pt.Phases {
		for _, ph := range c.Phases {
			if ph.ID == id {
				phases = append(phases, ph)
			}
		}
	}
	var approvals []ApprovalTemplate
	for _, id := range pt.Approvals {
		for _, a := range c.Approvals {
			if a.ID == id {
				approvals = append(approvals, a)
			}
		}
	}
	return pt, phases, approvals, nil
}

// Path returns the catalog file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "siteline.yml")
}

// Load reads and validates the catalog from workspace.
func Load(workspace string) (*Config, error) {
	return FromFile(Path(workspace))
}

// LoadOptional returns nil,nil if the catalog file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default catalog YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in catalog.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog %s not found; write one with sl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `disciplines:
  architect:
    description: "Lead design consultant"
  civil-structural:
    description: "Civil and structural engineer"
  mep:
    description: "Mechanical, electrical and plumbing engineer"
  quantity-surveyor:
    description: "Cost planning and contract administration"
  landscape:
    description: "Landscape architect"
  fire-engineer:
    description: "Fire safety engineer"

phases:
  - id: site-preparation
    name: Site Preparation
    estimated_days: 21
    milestones:
      - {id: survey, name: Site survey completed, due_offset_days: 7}
      - {id: clearing, name: Site cleared, due_offset_days: 14}
      - {id: hoarding, name: Hoarding erected, due_offset_days: 21}
  - id: earthworks
    name: Earthworks
    estimated_days: 30
    depends_on: [site-preparation]
    milestones:
      - {id: excavation, name: Bulk excavation, due_offset_days: 35}
      - {id: compaction, name: Compaction tested, due_offset_days: 45}
      - {id: drainage, name: Subsoil drainage laid, due_offset_days: 51}
  - id: foundations
    name: Foundations
    estimated_days: 30
    depends_on: [earthworks]
    milestones:
      - {id: piling, name: Piling completed, due_offset_days: 65}
      - {id: footings, name: Footings poured, due_offset_days: 81}
  - id: superstructure
    name: Superstructure
    estimated_days: 90
    depends_on: [foundations]
    milestones:
      - {id: frame, name: Structural frame topped out, due_offset_days: 141}
      - {id: slabs, name: Floor slabs poured, due_offset_days: 156}
      - {id: roof, name: Roof structure closed, due_offset_days: 171}
  - id: services
    name: Building Services
    estimated_days: 60
    depends_on: [superstructure]
    milestones:
      - {id: rough-in, name: Services rough-in, due_offset_days: 201}
      - {id: commissioning, name: Services commissioned, due_offset_days: 231}
  - id: finishes
    name: Finishes
    estimated_days: 45
    depends_on: [services]
    milestones:
      - {id: internal, name: Internal finishes, due_offset_days: 261}
      - {id: external, name: External works, due_offset_days: 276}
  - id: handover
    name: Handover
    estimated_days: 14
    depends_on: [finishes]
    milestones:
      - {id: practical-completion, name: Practical completion certified, due_offset_days: 285}
      - {id: defects-list, name: Defects list issued, due_offset_days: 290}

approvals:
  - id: development-order
    name: Development Order
    authority: Local Planning Authority
    estimated_days: 90
    required_documents: [site-plan, planning-report, traffic-impact-assessment]
  - id: building-plan
    name: Building Plan Approval
    authority: Building Control Authority
    estimated_days: 60
    required_documents: [architectural-drawings, structural-calculations]
  - id: earthworks-permit
    name: Earthworks Permit
    authority: Local Council Engineering Department
    estimated_days: 30
    required_documents: [earthworks-plan, erosion-control-plan]
  - id: strata-title
    name: Strata Title Plan
    authority: Land Office
    estimated_days: 120
    required_documents: [strata-plan, survey-certificate]
  - id: fire-certificate
    name: Fire Certificate
    authority: Fire and Rescue Department
    estimated_days: 45
    required_documents: [fire-safety-plan]
  - id: occupation-certificate
    name: Certificate of Completion and Compliance
    authority: Building Control Authority
    estimated_days: 30
    required_documents: [completion-report, as-built-drawings]

project_types:
  residential:
    disciplines: [architect, civil-structural, mep, quantity-surveyor]
    phases: [site-preparation, earthworks, foundations, superstructure, services, finishes, handover]
    approvals: [development-order, building-plan, earthworks-permit, occupation-certificate]
  strata:
    disciplines: [architect, civil-structural, mep, quantity-surveyor, landscape]
    phases: [site-preparation, earthworks, foundations, superstructure, services, finishes, handover]
    approvals: [development-order, building-plan, earthworks-permit, strata-title, fire-certificate, occupation-certificate]
  commercial:
    disciplines: [architect, civil-structural, mep, quantity-surveyor, fire-engineer]
    phases: [site-preparation, earthworks, foundations, superstructure, services, finishes, handover]
    approvals: [development-order, building-plan, earthworks-permit, fire-certificate, occupation-certificate]
`
