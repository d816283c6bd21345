// Package config 负责加载 ShopMCP 的 JSON 配置文件，支持环境变量覆盖部署参数，
// 并为未填写的字段补充默认值。
package config
