package hparams

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TrainConfig is the strongly typed view of a resolved document.
type TrainConfig struct {
	Mode               int    `yaml:"mode"`
	Distribute         bool   `yaml:"distribute"`
	NumParallelWorkers int    `yaml:"num_parallel_workers"`
	ValWhileTrain      bool   `yaml:"val_while_train"`
	ValInterval        int    `yaml:"val_interval"`
	Seed               int    `yaml:"seed"`
	Dataset            string `yaml:"dataset"`
	DataDir            string `yaml:"data_dir"`
	Shuffle            bool   `yaml:"shuffle"`
	DatasetDownload    bool   `yaml:"dataset_download"`
	TrainSplit         string `yaml:"train_split"`
	ValSplit           string `yaml:"val_split"`
	BatchSize          int    `yaml:"batch_size"`
	DropRemainder      bool   `yaml:"drop_remainder"`

	ImageResize   int       `yaml:"image_resize"`
	Scale         []float64 `yaml:"scale"`
	Ratio         []float64 `yaml:"ratio"`
	HFlip         float64   `yaml:"hflip"`
	VFlip         float64   `yaml:"vflip"`
	Interpolation string    `yaml:"interpolation"`
	CropPct       float64   `yaml:"crop_pct"`
	ColorJitter   []float64 `yaml:"-"`
	AutoAugment   string    `yaml:"auto_augment"`
	REProb        float64   `yaml:"re_prob"`
	Mixup         float64   `yaml:"mixup"`
	Cutmix        float64   `yaml:"cutmix"`
	CutmixProb    float64   `yaml:"cutmix_prob"`

	Model             string   `yaml:"model"`
	NumClasses        int      `yaml:"num_classes"`
	InChannels        int      `yaml:"in_channels"`
	Pretrained        bool     `yaml:"pretrained"`
	CkptPath          string   `yaml:"ckpt_path"`
	DropRate          *float64 `yaml:"drop_rate"`
	DropPathRate      *float64 `yaml:"drop_path_rate"`
	KeepCheckpointMax int      `yaml:"keep_checkpoint_max"`
	CkptSaveDir       string   `yaml:"ckpt_save_dir"`

	EpochSize       int    `yaml:"epoch_size"`
	DatasetSinkMode bool   `yaml:"dataset_sink_mode"`
	AmpLevel        string `yaml:"amp_level"`

	Loss           string  `yaml:"loss"`
	LabelSmoothing float64 `yaml:"label_smoothing"`

	Scheduler    string  `yaml:"scheduler"`
	LR           float64 `yaml:"lr"`
	MinLR        float64 `yaml:"min_lr"`
	WarmupEpochs int     `yaml:"warmup_epochs"`
	WarmupFactor float64 `yaml:"warmup_factor"`
	DecayEpochs  int     `yaml:"decay_epochs"`
	DecayRate    float64 `yaml:"decay_rate"`

	Opt             string  `yaml:"opt"`
	Momentum        float64 `yaml:"momentum"`
	WeightDecay     float64 `yaml:"weight_decay"`
	LossScale       float64 `yaml:"loss_scale"`
	UseNesterov     bool    `yaml:"use_nesterov"`
	FilterBiasAndBN bool    `yaml:"filter_bias_and_bn"`
}

// Resolve returns a copy of doc with the registry default filled in for every
// known option that is absent. Required options without a default stay absent.
func Resolve(doc *Document) *Document {
	out := doc.Clone()
	for _, f := range DefaultRegistry().Fields() {
		if out.Has(f.Key) || f.Required {
			continue
		}
		out.Set(f.Key, f.Default)
	}
	return out
}

// Decode resolves doc and decodes it into a TrainConfig. Unknown keys are
// ignored; a value of the wrong type is an error.
func Decode(doc *Document) (TrainConfig, error) {
	reg := DefaultRegistry()
	for _, e := range doc.Entries() {
		f, ok := reg.Lookup(e.Key)
		if !ok {
			continue
		}
		if err := checkKind(f, e.Value); err != nil {
			return TrainConfig{}, fmt.Errorf("%w: %s: %v", ErrDecode, e.Key, err)
		}
	}

	resolved := Resolve(doc)
	data, err := Encode(resolved)
	if err != nil {
		return TrainConfig{}, err
	}

	var cfg TrainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TrainConfig{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// color_jitter accepts a single number as shorthand for brightness only.
	if v, ok := resolved.Get("color_jitter"); ok {
		jitter, err := floatList(v)
		if err != nil {
			return TrainConfig{}, fmt.Errorf("%w: color_jitter: %v", ErrDecode, err)
		}
		cfg.ColorJitter = jitter
	}
	return cfg, nil
}

func floatList(v Value) ([]float64, error) {
	switch v.Kind() {
	case KindNull:
		return nil, nil
	case KindInt, KindFloat:
		f, _ := v.AsFloat()
		return []float64{f}, nil
	case KindList:
		items, _ := v.AsList()
		out := make([]float64, len(items))
		for i, item := range items {
			f, ok := item.AsFloat()
			if !ok {
				return nil, fmt.Errorf("item %d is %s, want number", i, item.Kind())
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("got %s, want number or list", v.Kind())
	}
}
