package hparams

import (
	"math"
	"sync"
)

// Section groups related options. Canonical output is ordered by section.
type Section string

const (
	SectionSystem       Section = "system"
	SectionDataset      Section = "dataset"
	SectionAugmentation Section = "augmentation"
	SectionModel        Section = "model"
	SectionTraining     Section = "training"
	SectionLoss         Section = "loss"
	SectionScheduler    Section = "scheduler"
	SectionOptimizer    Section = "optimizer"
)

// Sections lists the sections in canonical order.
func Sections() []Section {
	return []Section{
		SectionSystem,
		SectionDataset,
		SectionAugmentation,
		SectionModel,
		SectionTraining,
		SectionLoss,
		SectionScheduler,
		SectionOptimizer,
	}
}

// Bounds restricts a numeric option (or every item of a numeric list).
type Bounds struct {
	Min          float64
	Max          float64
	MinExclusive bool
	MaxExclusive bool
}

// Contains reports whether f lies within the bounds.
func (b Bounds) Contains(f float64) bool {
	if b.MinExclusive {
		if f <= b.Min {
			return false
		}
	} else if f < b.Min {
		return false
	}
	if b.MaxExclusive {
		return f < b.Max
	}
	return f <= b.Max
}

// Field describes one known option.
type Field struct {
	Key         string
	Section     Section
	Kind        Kind
	Default     Value
	Required    bool
	Nullable    bool
	Bounds      *Bounds
	Enum        []string
	MinItems    int
	MaxItems    int
	Ascending   bool
	AllowScalar bool
	Check       func(Value) error
	Description string
}

// Registry indexes the known options.
type Registry struct {
	fields []Field
	byKey  map[string]int
}

var (
	defaultRegistry *Registry
	registryOnce    sync.Once
)

// DefaultRegistry returns the registry of options understood by the training
// framework. It is built once and safe for concurrent use.
func DefaultRegistry() *Registry {
	registryOnce.Do(func() {
		defaultRegistry = newRegistry(defaultFields())
	})
	return defaultRegistry
}

func newRegistry(fields []Field) *Registry {
	r := &Registry{
		fields: fields,
		byKey:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if _, dup := r.byKey[f.Key]; dup {
			panic("hparams: duplicate registry key " + f.Key)
		}
		r.byKey[f.Key] = i
	}
	return r
}

// Lookup returns the field registered under key.
func (r *Registry) Lookup(key string) (Field, bool) {
	idx, ok := r.byKey[key]
	if !ok {
		return Field{}, false
	}
	return r.fields[idx], true
}

// Fields returns all fields in canonical order.
func (r *Registry) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// position returns the canonical position of key, or -1 for unknown keys.
func (r *Registry) position(key string) int {
	if idx, ok := r.byKey[key]; ok {
		return idx
	}
	return -1
}

func closed(lo, hi float64) *Bounds { return &Bounds{Min: lo, Max: hi} }

func halfOpen(lo, hi float64) *Bounds { return &Bounds{Min: lo, Max: hi, MaxExclusive: true} }

func atLeast(lo float64) *Bounds { return &Bounds{Min: lo, Max: math.MaxFloat64} }

func above(lo float64) *Bounds {
	return &Bounds{Min: lo, Max: math.MaxFloat64, MinExclusive: true}
}

var (
	optimizers = []string{"sgd", "momentum", "adam", "adamw", "lion", "nadam", "adan", "rmsprop", "adagrad", "lamb"}
	schedulers = []string{"constant", "cosine_decay", "warmup_cosine_decay", "exponential_decay", "step_decay", "polynomial_decay"}
)

func defaultFields() []Field {
	return []Field{
		// system
		{Key: "mode", Section: SectionSystem, Kind: KindInt, Default: Int(0), Bounds: closed(0, 1),
			Description: "execution mode of the framework: 0 graph, 1 pynative"},
		{Key: "distribute", Section: SectionSystem, Kind: KindBool, Default: Bool(false),
			Description: "enable multi-device distributed training"},
		{Key: "num_parallel_workers", Section: SectionSystem, Kind: KindInt, Default: Int(8), Bounds: atLeast(1),
			Description: "data-loading worker count"},
		{Key: "val_while_train", Section: SectionSystem, Kind: KindBool, Default: Bool(false),
			Description: "run validation during training"},
		{Key: "val_interval", Section: SectionSystem, Kind: KindInt, Default: Int(1), Bounds: atLeast(1),
			Description: "epochs between validation runs"},
		{Key: "seed", Section: SectionSystem, Kind: KindInt, Default: Int(42), Bounds: atLeast(0),
			Description: "random seed"},

		// dataset
		{Key: "dataset", Section: SectionDataset, Kind: KindString, Default: String("imagenet"),
			Description: "dataset identifier"},
		{Key: "data_dir", Section: SectionDataset, Kind: KindString, Default: String("./"),
			Description: "dataset root directory"},
		{Key: "shuffle", Section: SectionDataset, Kind: KindBool, Default: Bool(true),
			Description: "shuffle the training set"},
		{Key: "dataset_download", Section: SectionDataset, Kind: KindBool, Default: Bool(false),
			Description: "download the dataset if missing"},
		{Key: "train_split", Section: SectionDataset, Kind: KindString, Default: String("train"),
			Description: "training split name"},
		{Key: "val_split", Section: SectionDataset, Kind: KindString, Default: String("val"),
			Description: "validation split name"},
		{Key: "batch_size", Section: SectionDataset, Kind: KindInt, Default: Int(128), Bounds: atLeast(1),
			Description: "per-device batch size"},
		{Key: "drop_remainder", Section: SectionDataset, Kind: KindBool, Default: Bool(true),
			Description: "drop the last incomplete batch"},

		// augmentation
		{Key: "image_resize", Section: SectionAugmentation, Kind: KindInt, Default: Int(224), Bounds: atLeast(1),
			Description: "training crop size in pixels"},
		{Key: "scale", Section: SectionAugmentation, Kind: KindList, Default: Floats(0.08, 1.0),
			Bounds: &Bounds{Min: 0, Max: 1, MinExclusive: true}, MinItems: 2, MaxItems: 2, Ascending: true,
			Description: "random resized crop area range"},
		{Key: "ratio", Section: SectionAugmentation, Kind: KindList, Default: Floats(0.75, 1.333),
			Bounds: above(0), MinItems: 2, MaxItems: 2, Ascending: true,
			Description: "random resized crop aspect ratio range"},
		{Key: "hflip", Section: SectionAugmentation, Kind: KindFloat, Default: Float(0.5), Bounds: closed(0, 1),
			Description: "horizontal flip probability"},
		{Key: "vflip", Section: SectionAugmentation, Kind: KindFloat, Default: Float(0.0), Bounds: closed(0, 1),
			Description: "vertical flip probability"},
		{Key: "interpolation", Section: SectionAugmentation, Kind: KindString, Default: String("bilinear"),
			Enum:        []string{"bilinear", "bicubic", "nearest", "area", "lanczos"},
			Description: "resize interpolation"},
		{Key: "crop_pct", Section: SectionAugmentation, Kind: KindFloat, Default: Float(0.875),
			Bounds:      &Bounds{Min: 0, Max: 1, MinExclusive: true},
			Description: "center crop ratio used for evaluation"},
		{Key: "color_jitter", Section: SectionAugmentation, Kind: KindList, Default: Floats(0.4, 0.4, 0.4),
			Bounds: atLeast(0), MinItems: 1, MaxItems: 4, AllowScalar: true, Nullable: true,
			Description: "brightness, contrast, saturation and hue jitter"},
		{Key: "auto_augment", Section: SectionAugmentation, Kind: KindString, Default: Null(), Nullable: true,
			Check:       checkAugmentPolicy,
			Description: "auto augmentation policy, e.g. randaug-m9-mstd0.5-inc1"},
		{Key: "re_prob", Section: SectionAugmentation, Kind: KindFloat, Default: Float(0.0), Bounds: closed(0, 1),
			Description: "random erasing probability"},
		{Key: "mixup", Section: SectionAugmentation, Kind: KindFloat, Default: Float(0.0), Bounds: atLeast(0),
			Description: "mixup alpha, 0 disables"},
		{Key: "cutmix", Section: SectionAugmentation, Kind: KindFloat, Default: Float(0.0), Bounds: atLeast(0),
			Description: "cutmix alpha, 0 disables"},
		{Key: "cutmix_prob", Section: SectionAugmentation, Kind: KindFloat, Default: Float(1.0), Bounds: closed(0, 1),
			Description: "probability of cutmix when both mixup and cutmix are enabled"},

		// model
		{Key: "model", Section: SectionModel, Kind: KindString, Required: true,
			Description: "registered model name"},
		{Key: "num_classes", Section: SectionModel, Kind: KindInt, Default: Int(1000), Bounds: atLeast(1),
			Description: "number of output classes"},
		{Key: "in_channels", Section: SectionModel, Kind: KindInt, Default: Int(3), Bounds: atLeast(1),
			Description: "input image channels"},
		{Key: "pretrained", Section: SectionModel, Kind: KindBool, Default: Bool(false),
			Description: "load published pretrained weights"},
		{Key: "ckpt_path", Section: SectionModel, Kind: KindString, Default: String(""), Nullable: true,
			Description: "checkpoint to initialize weights from"},
		{Key: "drop_rate", Section: SectionModel, Kind: KindFloat, Default: Null(), Nullable: true, Bounds: halfOpen(0, 1),
			Description: "classifier dropout rate"},
		{Key: "drop_path_rate", Section: SectionModel, Kind: KindFloat, Default: Null(), Nullable: true, Bounds: halfOpen(0, 1),
			Description: "stochastic depth rate"},
		{Key: "keep_checkpoint_max", Section: SectionModel, Kind: KindInt, Default: Int(10), Bounds: atLeast(0),
			Description: "number of checkpoints to keep"},
		{Key: "ckpt_save_dir", Section: SectionModel, Kind: KindString, Default: String("./ckpt"),
			Description: "checkpoint output directory"},

		// training
		{Key: "epoch_size", Section: SectionTraining, Kind: KindInt, Default: Int(90), Bounds: closed(1, 100_000),
			Description: "number of training epochs"},
		{Key: "dataset_sink_mode", Section: SectionTraining, Kind: KindBool, Default: Bool(true),
			Description: "feed data through the device sink"},
		{Key: "amp_level", Section: SectionTraining, Kind: KindString, Default: String("O0"),
			Enum:        []string{"O0", "O1", "O2", "O3", "auto"},
			Description: "automatic mixed precision level"},

		// loss
		{Key: "loss", Section: SectionLoss, Kind: KindString, Default: String("CE"),
			Enum:        []string{"CE", "BCE"},
			Description: "loss function"},
		{Key: "label_smoothing", Section: SectionLoss, Kind: KindFloat, Default: Float(0.0), Bounds: halfOpen(0, 1),
			Description: "label smoothing factor"},

		// scheduler
		{Key: "scheduler", Section: SectionScheduler, Kind: KindString, Default: String("cosine_decay"),
			Enum:        schedulers,
			Description: "learning-rate schedule"},
		{Key: "lr", Section: SectionScheduler, Kind: KindFloat, Default: Float(0.001),
			Bounds:      &Bounds{Min: 0, Max: 10, MinExclusive: true},
			Description: "base learning rate"},
		{Key: "min_lr", Section: SectionScheduler, Kind: KindFloat, Default: Float(1e-6), Bounds: closed(0, 10),
			Description: "learning-rate floor of decaying schedules"},
		{Key: "warmup_epochs", Section: SectionScheduler, Kind: KindInt, Default: Int(3), Bounds: atLeast(0),
			Description: "linear warmup length in epochs"},
		{Key: "warmup_factor", Section: SectionScheduler, Kind: KindFloat, Default: Float(0.0), Bounds: closed(0, 1),
			Description: "warmup start as a fraction of lr"},
		{Key: "decay_epochs", Section: SectionScheduler, Kind: KindInt, Default: Int(100), Bounds: atLeast(0),
			Description: "decay length in epochs (step interval for step_decay)"},
		{Key: "decay_rate", Section: SectionScheduler, Kind: KindFloat, Default: Float(0.9),
			Bounds:      &Bounds{Min: 0, Max: 1, MinExclusive: true},
			Description: "decay factor for exponential and step decay"},

		// optimizer
		{Key: "opt", Section: SectionOptimizer, Kind: KindString, Default: String("adam"),
			Enum:        optimizers,
			Description: "optimizer"},
		{Key: "momentum", Section: SectionOptimizer, Kind: KindFloat, Default: Float(0.9), Bounds: halfOpen(0, 1),
			Description: "momentum or first-moment decay"},
		{Key: "weight_decay", Section: SectionOptimizer, Kind: KindFloat, Default: Float(1e-6), Bounds: closed(0, 1),
			Description: "weight decay"},
		{Key: "loss_scale", Section: SectionOptimizer, Kind: KindFloat, Default: Float(1.0), Bounds: closed(1, 1<<24),
			Description: "static loss scale for mixed precision"},
		{Key: "use_nesterov", Section: SectionOptimizer, Kind: KindBool, Default: Bool(false),
			Description: "use Nesterov momentum"},
		{Key: "filter_bias_and_bn", Section: SectionOptimizer, Kind: KindBool, Default: Bool(true),
			Description: "exclude bias and norm parameters from weight decay"},
	}
}
