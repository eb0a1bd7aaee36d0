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

package scope

//{
//  "type": "untilSuccessful",
//  "configuration": {
//    "maxRetries": 5,
//    "retryInterval": "2s",
//    "failureExpression": "inbound['http.status'] >= 500",
//    "synchronous": false
//  },
//  "routes": [
//    {"processors": [...]},
//    {"id": "deadLetter", "processors": [...]}
//  ]
//}
import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/components/base"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/logger"
)

// DeadLetterRoute id of the route receiving events that exhausted their retries.
const DeadLetterRoute = "deadLetter"

// ErrRetryExhausted every attempt of an until-successful scope failed.
var ErrRetryExhausted = errors.New("until successful retries exhausted")

func init() {
	Registry.Add(&UntilSuccessful{})
}

// UntilSuccessfulConfiguration 节点配置
type UntilSuccessfulConfiguration struct {
	// MaxRetries retries after the first attempt
	MaxRetries int
	// RetryInterval delay between attempts
	RetryInterval time.Duration
	// FailureExpression marks a result as failed when it evaluates to true
	FailureExpression string
	// Synchronous retry on the caller's goroutine and fail when retries are exhausted.
	// Asynchronous mode returns at once and retries a copy in the background
	Synchronous bool
}

// UntilSuccessful 重试作用域
// Runs the nested processors until they succeed or the retries are exhausted.
// Exhausted events go to the deadLetter route when there is one.
type UntilSuccessful struct {
	nested
	Config            UntilSuccessfulConfiguration
	config            types.Config
	failureExpression *el.Expression
	deadLetter        types.Processor
	graceful          base.GracefulShutdown
	stop              chan struct{}
}

func (x *UntilSuccessful) Type() string {
	return "untilSuccessful"
}

func (x *UntilSuccessful) New() types.Component {
	return &UntilSuccessful{Config: UntilSuccessfulConfiguration{MaxRetries: 5, RetryInterval: time.Minute}}
}

func (x *UntilSuccessful) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.MaxRetries < 0 {
		return types.NewIllegalArgumentError("untilSuccessful maxRetries must not be negative")
	}
	if x.Config.FailureExpression != "" {
		expression, err := el.Compile(x.Config.FailureExpression, config.Udf)
		if err != nil {
			return err
		}
		x.failureExpression = expression
	}
	x.config = config
	x.stop = make(chan struct{})
	return nil
}

func (x *UntilSuccessful) SetRoutes(routes []types.Route) error {
	var main []types.Route
	for _, r := range routes {
		if r.Id == DeadLetterRoute {
			x.deadLetter = r.Processor
		} else {
			main = append(main, r)
		}
	}
	return x.setRoutes(x.Type(), main)
}

// attempt runs the nested processors once on a copy of event.
func (x *UntilSuccessful) attempt(event *types.Event) (*types.Event, error) {
	result, err := x.processor.Process(event.Copy())
	if err != nil {
		return nil, err
	}
	if result != nil && x.failureExpression != nil {
		failed, err := x.failureExpression.EvalBool(result)
		if err != nil {
			return nil, err
		}
		if failed {
			return nil, errors.Errorf("failure expression %q matched", x.Config.FailureExpression)
		}
	}
	return result, nil
}

// run attempts until success, exhaustion or stop. interrupted is true when stopped.
func (x *UntilSuccessful) run(event *types.Event) (result *types.Event, interrupted bool, err error) {
	for i := 0; ; i++ {
		if result, err = x.attempt(event); err == nil {
			return result, false, nil
		}
		if i >= x.Config.MaxRetries {
			return nil, false, errors.Wrap(ErrRetryExhausted, fmt.Sprintf("after %d attempts: %v", i+1, err))
		}
		logger.Debug(x.config.Logger, "untilSuccessful: attempt %d failed, retrying in %s: %v", i+1, x.Config.RetryInterval, err)
		select {
		case <-x.stop:
			return nil, true, err
		case <-time.After(x.Config.RetryInterval):
		}
	}
}

func (x *UntilSuccessful) exhausted(event *types.Event, err error) (*types.Event, error) {
	if x.deadLetter == nil {
		return nil, err
	}
	dl := event.Copy()
	dl.SetMessage(dl.Message().WithExceptionPayload(types.NewExceptionPayload(err)))
	return x.deadLetter.Process(dl)
}

func (x *UntilSuccessful) Process(event *types.Event) (*types.Event, error) {
	if err := x.ready(x.Type()); err != nil {
		return nil, err
	}
	if x.Config.Synchronous {
		result, _, err := x.run(event)
		if err != nil {
			if _, dlErr := x.exhausted(event, err); dlErr != nil && dlErr != err {
				logger.Error(x.config.Logger, dlErr, "untilSuccessful: dead letter route failed")
			}
			return nil, err
		}
		return result, nil
	}
	if err := refuseTransaction(x.Type(), event); err != nil {
		return nil, err
	}
	if err := x.graceful.BeginOp(); err != nil {
		return nil, err
	}
	async := base.AsyncEvent(event)
	err := base.Submit(x.config, func() {
		defer x.graceful.EndOp()
		_, interrupted, err := x.run(async)
		if err == nil || interrupted {
			return
		}
		if _, err = x.exhausted(async, err); err != nil {
			logger.Error(x.config.Logger, err, "untilSuccessful: retries exhausted for message %s", async.Message().Id())
		}
	})
	if err != nil {
		x.graceful.EndOp()
		return nil, err
	}
	return event, nil
}

func (x *UntilSuccessful) Destroy() {
	if x.stop != nil {
		select {
		case <-x.stop:
		default:
			close(x.stop)
		}
	}
	x.graceful.GracefulStop(x.config.Logger, x.Type(), base.DefaultShutdownTimeout)
}
