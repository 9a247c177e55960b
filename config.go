package dpgbdt

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/unixpickle/essentials"
	"gopkg.in/yaml.v3"
)

// maxClampedBudget is the ceiling Config.clamped enforces on PrivacyBudget;
// values above it are numerically indistinguishable from "no privacy" and
// are clamped with a warning rather than rejected outright.
const maxClampedBudget = 1000.0

// Config bundles every tunable of a Fit call. Zero-value Config is not
// usable; build one with DefaultConfig or NewConfig.
type Config struct {
	// PrivacyBudget is the total epsilon spent across every round. A value
	// of 0 disables differential privacy entirely (vanilla GBDT).
	PrivacyBudget float64 `yaml:"privacy_budget"`

	// NBTrees is the total number of boosting rounds. Each round fits one
	// tree for regression and binary classification, and NClasses trees
	// for multiclass classification.
	NBTrees int `yaml:"nb_trees"`

	// NBTreesPerEnsemble partitions NBTrees into ensembles-of-rounds that
	// each draw disjointly from a freshly reset row pool.
	NBTreesPerEnsemble int `yaml:"nb_trees_per_ensemble"`

	// MaxDepth bounds tree depth; the root is depth 0.
	MaxDepth int `yaml:"max_depth"`

	// MaxLeaves caps leaf count and switches tree growth to BFS
	// (best-leaf-first) when positive. 0 disables the cap (DFS growth).
	MaxLeaves int `yaml:"max_leaves"`

	// MinSamplesSplit is the minimum row count a node needs before a split
	// is attempted; below it, the node is forced to be a leaf.
	MinSamplesSplit int `yaml:"min_samples_split"`

	// LearningRate (eta) scales every tree's contribution to the ensemble.
	LearningRate float64 `yaml:"learning_rate"`

	// L2Threshold (G) bounds per-sample gradient magnitude and anchors the
	// sensitivity calculations in NoiseMechanisms.
	L2Threshold float64 `yaml:"l2_threshold"`

	// L2Lambda is the split-gain and leaf-value regularizer.
	L2Lambda float64 `yaml:"l2_lambda"`

	// GradientFiltering clips each row's gradient to [-L2Threshold,
	// L2Threshold] before it is used in any split or leaf computation.
	GradientFiltering bool `yaml:"gradient_filtering"`

	// LeafClipping clips leaf predictions to the geometrically-decaying
	// bound before Laplace noise is added. Only applies when PrivacyBudget
	// is nonzero.
	LeafClipping bool `yaml:"leaf_clipping"`

	// BalancePartition selects the balanced (equal-size) row batch
	// schedule across an ensemble-of-rounds rather than the geometric one.
	BalancePartition bool `yaml:"balance_partition"`

	// UseBFS requests best-leaf-first growth. Automatically forced true
	// when MaxLeaves is set; ignored (DFS growth is used) when Use3Trees
	// is set.
	UseBFS bool `yaml:"use_bfs"`

	// Use3Trees merges a node's sibling rows into the split-gain
	// computation (3-node mode). Validate rejects it together with
	// MaxLeaves; together with UseBFS alone, growth is DFS.
	Use3Trees bool `yaml:"use_3_trees"`

	// UseDecay halves the per-depth internal-node budget geometrically
	// (eps/2^depth) instead of splitting it evenly across MaxDepth levels.
	UseDecay bool `yaml:"use_decay"`

	// CatIdx lists categorical feature indices; every other feature is
	// numeric.
	CatIdx []int `yaml:"cat_idx"`

	// NClasses is the number of classes for classification, or 0 for
	// regression.
	NClasses int `yaml:"n_classes"`

	// BinaryAsRegression routes a 2-class problem through the regression
	// (least squares) loss instead of binomial deviance.
	BinaryAsRegression bool `yaml:"binary_as_regression"`

	// EarlyStop is the number of consecutive non-improving rounds allowed
	// before Fit stops early. Only applies when PrivacyBudget is 0, since
	// data-dependent early stopping under DP would leak budget-free signal.
	EarlyStop int `yaml:"early_stop"`

	// ValidationFraction is the fraction of rows held out once, at the
	// start of Fit, and used to score every round; it is never drawn into
	// a training batch.
	ValidationFraction float64 `yaml:"validation_fraction"`

	// Seed drives every deterministic sub-stream: the validation split,
	// batch sampling, and the per-node noise mechanisms.
	Seed int64 `yaml:"seed"`

	// Verbosity selects the log level: -1 warnings only (default), 0 info,
	// 1 debug.
	Verbosity int `yaml:"verbosity"`
}

// DefaultConfig returns a Config with the reference hyperparameters from
// the original prototype's constructor defaults.
func DefaultConfig() *Config {
	return &Config{
		PrivacyBudget:      1.0,
		NBTrees:            50,
		NBTreesPerEnsemble: 50,
		MaxDepth:           6,
		MinSamplesSplit:    2,
		LearningRate:       0.1,
		L2Threshold:        1.0,
		L2Lambda:           0.1,
		GradientFiltering:  true,
		LeafClipping:       true,
		BalancePartition:   true,
		EarlyStop:          5,
		ValidationFraction: 0.3,
		Seed:               0,
		Verbosity:          -1,
	}
}

// Option mutates a Config being built by NewConfig.
type Option func(*Config)

// NewConfig applies opts over DefaultConfig.
func NewConfig(opts ...Option) *Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithPrivacyBudget(eps float64) Option { return func(c *Config) { c.PrivacyBudget = eps } }

func WithTrees(total, perEnsemble int) Option {
	return func(c *Config) {
		c.NBTrees = total
		c.NBTreesPerEnsemble = perEnsemble
	}
}

func WithDepth(maxDepth int) Option { return func(c *Config) { c.MaxDepth = maxDepth } }

func WithMaxLeaves(n int) Option { return func(c *Config) { c.MaxLeaves = n } }

func WithLearningRate(eta float64) Option { return func(c *Config) { c.LearningRate = eta } }

func WithClassification(nClasses int) Option { return func(c *Config) { c.NClasses = nClasses } }

func WithCategorical(idx ...int) Option {
	return func(c *Config) { c.CatIdx = append([]int{}, idx...) }
}

func With3Trees(b bool) Option { return func(c *Config) { c.Use3Trees = b } }

func WithBFS(b bool) Option { return func(c *Config) { c.UseBFS = b } }

func WithSeed(seed int64) Option { return func(c *Config) { c.Seed = seed } }

// Validate checks internal consistency. It does not mutate c.
func (c *Config) Validate() error {
	switch {
	case c.PrivacyBudget < 0:
		return &ConfigError{Field: "PrivacyBudget", Reason: "must be non-negative"}
	case c.NBTrees <= 0:
		return &ConfigError{Field: "NBTrees", Reason: "must be positive"}
	case c.NBTreesPerEnsemble <= 0:
		return &ConfigError{Field: "NBTreesPerEnsemble", Reason: "must be positive"}
	case c.MaxDepth <= 0:
		return &ConfigError{Field: "MaxDepth", Reason: "must be positive"}
	case c.MaxLeaves < 0:
		return &ConfigError{Field: "MaxLeaves", Reason: "must be non-negative"}
	case c.MinSamplesSplit < 2:
		return &ConfigError{Field: "MinSamplesSplit", Reason: "must be at least 2"}
	case c.LearningRate <= 0 || c.LearningRate > 1:
		return &ConfigError{Field: "LearningRate", Reason: "must be in (0, 1]"}
	case c.L2Threshold <= 0:
		return &ConfigError{Field: "L2Threshold", Reason: "must be positive"}
	case c.L2Lambda < 0:
		return &ConfigError{Field: "L2Lambda", Reason: "must be non-negative"}
	case c.ValidationFraction < 0 || c.ValidationFraction >= 1:
		return &ConfigError{Field: "ValidationFraction", Reason: "must be in [0, 1)"}
	case c.NClasses < 0 || c.NClasses == 1:
		return &ConfigError{Field: "NClasses", Reason: "must be 0 (regression) or >= 2"}
	case c.Use3Trees && c.MaxLeaves > 0:
		return &ConfigError{Field: "Use3Trees", Reason: "mutually exclusive with MaxLeaves/BFS growth"}
	}
	seen := map[int]bool{}
	for _, idx := range c.CatIdx {
		if seen[idx] {
			return &ConfigError{Field: "CatIdx", Reason: "duplicate feature index"}
		}
		seen[idx] = true
	}
	return nil
}

// clamped returns a copy of c with PrivacyBudget clamped to maxClampedBudget
// and UseBFS forced on whenever MaxLeaves requests best-leaf-first growth,
// logging both adjustments.
func (c *Config) clamped(logger *logrus.Entry) *Config {
	out := *c
	if out.PrivacyBudget > maxClampedBudget {
		logger.Warnf("privacy budget %.3f clamped to %.3f", out.PrivacyBudget, maxClampedBudget)
		out.PrivacyBudget = maxClampedBudget
	}
	if out.MaxLeaves > 0 && !out.UseBFS {
		logger.Debug("max_leaves set, switching to best-leaf-first growth")
		out.UseBFS = true
	}
	return &out
}

// featureKinds builds the per-column FeatureKind slice for numFeatures
// columns, given c.CatIdx.
func (c *Config) featureKinds(numFeatures int) []FeatureKind {
	kinds := make([]FeatureKind, numFeatures)
	for _, idx := range c.CatIdx {
		if idx >= 0 && idx < numFeatures {
			kinds[idx] = FeatureCategorical
		}
	}
	return kinds
}

func (c *Config) catSet() map[int]bool {
	set := make(map[int]bool, len(c.CatIdx))
	for _, idx := range c.CatIdx {
		set[idx] = true
	}
	return set
}

// LoadConfigYAML reads a Config from a YAML file, the format the reference
// prototype's main_regression.py/main_classification.py parameter dicts are
// distilled into for this module's driver.
func LoadConfigYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("dpgbdt: load config", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, essentials.AddCtx("dpgbdt: parse config", err)
	}
	return cfg, nil
}

// SaveYAML writes c to path in the same layout LoadConfigYAML reads.
func (c *Config) SaveYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return essentials.AddCtx("dpgbdt: marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return essentials.AddCtx("dpgbdt: write config", err)
	}
	return nil
}
