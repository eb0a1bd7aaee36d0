/*
 * Copyright 2023 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package action

//{
//  "type": "logger",
//  "configuration": {
//    "message": "received ${messageId} from ${inbound.MULE_ORIGINATING_ENDPOINT}",
//    "level": "info"
//  }
//}
import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/js"
	"github.com/mulego/mulego/utils/logger"
	"github.com/mulego/mulego/utils/maps"
	"github.com/mulego/mulego/utils/str"
)

func init() {
	Registry.Add(&LoggerProcessor{})
}

// LoggerConfiguration 节点配置
type LoggerConfiguration struct {
	// Message ${} template of the entry. Empty logs the message and its payload
	Message string
	// JsScript 使用js函数体格式化日志，脚本返回值string，优先于Message
	// 完整脚本函数：
	// function ToString(msg, inbound, vars) { ${JsScript} }
	JsScript string
	// Level debug, info, warn or error. Default info
	Level string
	// Category prefix of the entry
	Category string
}

// LoggerProcessor 日志处理器
// Logs an entry rendered from the event through types.Config.Logger and passes the event on.
type LoggerProcessor struct {
	Config   LoggerConfiguration
	template el.Template
	jsEngine *js.Engine
	logger   types.Logger
	udf      map[string]interface{}
}

func (x *LoggerProcessor) Type() string {
	return "logger"
}

func (x *LoggerProcessor) New() types.Component {
	return &LoggerProcessor{Config: LoggerConfiguration{Level: "info"}}
}

func (x *LoggerProcessor) Init(config types.Config, configuration types.Configuration) error {
	err := maps.Map2Struct(configuration, &x.Config)
	if err != nil {
		return err
	}
	switch strings.ToLower(x.Config.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return types.NewIllegalArgumentError("unknown log level: " + x.Config.Level)
	}
	if x.Config.JsScript != "" {
		if x.jsEngine, err = js.NewScript(config, "ToString", x.Config.JsScript); err != nil {
			return err
		}
	} else if x.Config.Message != "" {
		if x.template, err = el.NewTemplate(x.Config.Message, config.Udf); err != nil {
			return err
		}
	}
	x.logger = types.NewLogger(config.Logger)
	x.udf = config.Udf
	return nil
}

func (x *LoggerProcessor) format(event *types.Event) (string, error) {
	if x.jsEngine != nil {
		out, err := x.jsEngine.Invoke(event)
		if err != nil {
			return "", err
		}
		s, ok := out.(string)
		if !ok {
			return "", errors.New("return the value is not string")
		}
		return s, nil
	}
	if x.template != nil {
		v, err := el.Render(x.template, event, x.udf)
		if err != nil {
			return "", err
		}
		return str.ToString(v), nil
	}
	msg := event.Message()
	payload, _ := msg.PayloadAsString()
	return fmt.Sprintf("%s payload=%s", msg, payload), nil
}

func (x *LoggerProcessor) Process(event *types.Event) (*types.Event, error) {
	entry, err := x.format(event)
	if err != nil {
		return nil, err
	}
	if x.Config.Category != "" {
		entry = x.Config.Category + " " + entry
	}
	switch strings.ToLower(x.Config.Level) {
	case "debug":
		logger.Debug(x.logger, "%s", entry)
	case "warn", "warning":
		logger.Warn(x.logger, "%s", entry)
	case "error":
		logger.Error(x.logger, nil, "%s", entry)
	default:
		x.logger.Printf("%s", entry)
	}
	return event, nil
}

func (x *LoggerProcessor) Destroy() {
	if x.jsEngine != nil {
		x.jsEngine.Close()
	}
}
