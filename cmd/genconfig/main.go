package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"gopkg.in/yaml.v2"

	"github.com/spf13/viper"
)

const (
	baseConfigName = "values_base"
	outConfigName  = "values_local.yaml"
	configsDir     = "configs"
)

// mergeConfig накатывает пресет поверх базового конфига и отдаёт
// итоговый yaml. Ключи пресета побеждают.
func mergeConfig(preset string) (map[string]interface{}, error) {
	base := viper.New()
	base.SetConfigName(baseConfigName)
	base.SetConfigType("yaml")
	base.AddConfigPath(configsDir)
	if err := base.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read base config")
	}

	overlay := viper.New()
	overlay.SetConfigFile(filepath.Join(configsDir, "presets", preset+".yaml"))
	if err := overlay.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("read preset %q", preset))
	}

	if err := base.MergeConfigMap(overlay.AllSettings()); err != nil {
		return nil, errors.Wrap(err, "merge preset over base")
	}
	return base.AllSettings(), nil
}

func writeConfig(settings map[string]interface{}) (string, error) {
	bs, err := yaml.Marshal(settings)
	if err != nil {
		return "", errors.Wrap(err, "marshal config to yaml")
	}

	out := filepath.Join(configsDir, outConfigName)
	_ = os.Remove(out)
	temp, err := os.Create(out)
	if err != nil {
		return "", errors.Wrap(err, "create "+outConfigName)
	}
	defer func() { _ = temp.Close() }()

	if _, err = temp.Write(bs); err != nil {
		_ = os.Remove(temp.Name())
		return "", errors.Wrap(err, "write content")
	}
	return temp.Name(), nil
}

func main() {
	preset := "conservative"
	if len(os.Args) > 1 {
		preset = os.Args[1]
	}

	settings, err := mergeConfig(preset)
	if err != nil {
		panic(fmt.Errorf("can't build config: %w", err))
	}
	out, err := writeConfig(settings)
	if err != nil {
		panic(fmt.Errorf("can't write config: %w", err))
	}
	fmt.Printf("%s written from preset %q\n", out, preset)
}
